package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

// Email kinds
const (
	KindOrderConfirmation  = "order_confirmation"
	KindAdminNewOrder      = "admin_new_order"
	KindContractReady      = "contract_ready"
	KindContractSigned     = "contract_signed"
	KindInvoice            = "invoice"
	KindServiceProvisioned = "service_provisioned"
	KindRefund             = "refund"
)

var subjects = map[string]string{
	KindOrderConfirmation:  "Order confirmed: %s",
	KindAdminNewOrder:      "New order %s",
	KindContractReady:      "Action needed: sign the contract for order %s",
	KindContractSigned:     "Contract signed for order %s",
	KindInvoice:            "Invoice for order %s",
	KindServiceProvisioned: "Your services are active (order %s)",
	KindRefund:             "Refund issued for order %s",
}

// LineItem is an order line formatted for display.
type LineItem struct {
	Name     string
	Quantity int
	Price    string
}

// Data is the view model shared by every email template.
type Data struct {
	OrderID          string
	ClientName       string
	ClientEmail      string
	Total            string
	Tax              string
	Amount           string
	Items            []LineItem
	Services         string
	InvoiceNumber    string
	DashboardURL     string
	ContractRequired bool
}

// Renderer turns an email kind and view model into subject and HTML body.
type Renderer struct {
	templates map[string]*template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[string]*template.Template, len(subjects))}
	for kind := range subjects {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+kind+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", kind, err)
		}
		r.templates[kind] = t
	}
	return r, nil
}

// Render builds an email for the given recipient.
func (r *Renderer) Render(kind, to string, data Data) (Email, error) {
	t, ok := r.templates[kind]
	if !ok {
		return Email{}, fmt.Errorf("unknown email kind %q", kind)
	}

	var body bytes.Buffer
	if err := t.ExecuteTemplate(&body, "layout", data); err != nil {
		return Email{}, fmt.Errorf("render %s: %w", kind, err)
	}

	return Email{
		Kind:    kind,
		To:      to,
		Subject: fmt.Sprintf(subjects[kind], data.OrderID),
		HTML:    body.String(),
		OrderID: data.OrderID,
	}, nil
}

// FormatMoney renders minor currency units as dollars, e.g. 250000 -> $2,500.00.
func FormatMoney(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	whole := fmt.Sprintf("%d", minor/100)
	var grouped strings.Builder
	for i, ch := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(ch)
	}
	return fmt.Sprintf("%s$%s.%02d", sign, grouped.String(), minor%100)
}
