package service

import (
	"context"
	"errors"

	"agency-hub/internal/notify"
	"agency-hub/internal/util"

	"go.uber.org/zap"
)

// Notification records one best-effort email attempt.
type Notification struct {
	Kind    string
	To      string
	Success bool
	ID      string
	Err     error
}

// Outcome is the side-effect report of an engine operation. Notification
// failures land here instead of failing the operation.
type Outcome struct {
	OrderID       string
	Status        string
	Duplicate     bool
	Notifications []Notification
}

// Failed returns the notifications that could not be sent.
func (o *Outcome) Failed() []Notification {
	var failed []Notification
	for _, n := range o.Notifications {
		if !n.Success {
			failed = append(failed, n)
		}
	}
	return failed
}

// Sent reports whether an email of the given kind went out.
func (o *Outcome) Sent(kind string) bool {
	for _, n := range o.Notifications {
		if n.Kind == kind && n.Success {
			return true
		}
	}
	return false
}

// sendEmail renders and sends one email, recording the result on the outcome.
func (e *Engine) sendEmail(ctx context.Context, out *Outcome, kind, to string, data notify.Data) {
	n := Notification{Kind: kind, To: to}
	defer func() {
		if r := recover(); r != nil {
			n.Err = errors.New("email sender panicked")
			e.logger.Error("Email sender panicked", zap.String("kind", kind), zap.Any("panic", r))
		}
		e.record(out, n)
	}()

	if to == "" {
		n.Err = errors.New("no recipient")
		return
	}

	email, err := e.renderer.Render(kind, to, data)
	if err != nil {
		n.Err = err
		return
	}

	res := e.sender.Send(ctx, email)
	n.Success, n.ID, n.Err = res.Success, res.ID, res.Err
	if !res.Success && n.Err == nil {
		n.Err = errors.New("send failed")
	}
}

func (e *Engine) record(out *Outcome, n Notification) {
	result := "sent"
	if !n.Success {
		result = "failed"
		e.logger.Warn("Notification not sent",
			zap.String("kind", n.Kind), zap.String("order_id", out.OrderID), zap.Error(n.Err))
	}
	util.NotificationsTotal.WithLabelValues(n.Kind, result).Inc()
	out.Notifications = append(out.Notifications, n)
}
