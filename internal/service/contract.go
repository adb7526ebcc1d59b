package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agency-hub/internal/models"
	"agency-hub/internal/notify"
	"agency-hub/internal/util"

	"go.uber.org/zap"
)

// SignRequest is a client's signature on their own order's contract.
type SignRequest struct {
	UserID        string
	OrderID       string
	SignatureData string
	FullName      string
	Email         string
	IPAddress     string
	UserAgent     string
}

type signaturePayload struct {
	Signature string `json:"signature"`
	Timestamp string `json:"timestamp"`
}

// SignContract signs the order's contract exactly once and then provisions the
// order. Every rejected precondition returns before any write. A signed
// contract on an order still awaiting it is provisioned again on retry.
func (e *Engine) SignContract(ctx context.Context, req SignRequest) (*Outcome, error) {
	ctx, span := util.StartSpan(ctx, "Engine.SignContract", req.OrderID)
	defer span.End()

	if req.UserID == "" {
		return nil, unauthorized()
	}

	client, err := e.repo.GetClientByUserID(ctx, req.UserID)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("get client: %w", err)
	}
	if client == nil {
		return nil, notFound(ErrClientNotFound)
	}

	order, err := e.repo.GetOrderByID(ctx, req.OrderID)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil || order.ClientID != client.ID {
		return nil, notFound(ErrOrderNotFound)
	}

	contract, err := e.repo.GetContractByOrderID(ctx, order.ID)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("get contract: %w", err)
	}
	if contract == nil {
		return nil, badRequest(ErrNoContract, "")
	}
	if contract.IsSigned() {
		if order.Status != models.OrderStatusAwaitingContract || order.ProvisionedAt != nil {
			return nil, badRequest(ErrAlreadySigned, "")
		}
		// An earlier signature committed but provisioning did not finish.
		e.logger.Warn("Resuming provisioning for signed contract", zap.String("order_id", order.ID))
		out := &Outcome{OrderID: order.ID, Status: order.Status}
		agg, err := e.signedAggregate(ctx, client, order)
		if err == nil {
			err = e.provisionSigned(ctx, agg, out)
		}
		if err != nil {
			util.RecordError(span, err)
			return nil, err
		}
		return out, nil
	}

	now := e.now()
	sigData, err := json.Marshal(signaturePayload{
		Signature: req.SignatureData,
		Timestamp: now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("encode signature: %w", err)
	}
	ip := req.IPAddress
	if ip == "" {
		ip = "unknown"
	}

	entry := e.timeline(order.ID, order.Status, "Contract signed",
		fmt.Sprintf("Signed by %s <%s>", req.FullName, req.Email))
	signed, err := e.repo.SignContract(ctx, order.ID, models.ContractSignature{
		SignedAt:      now,
		SignatureData: string(sigData),
		SignedByName:  req.FullName,
		SignedByEmail: req.Email,
		IPAddress:     ip,
		UserAgent:     req.UserAgent,
	}, entry)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("sign contract: %w", err)
	}
	if !signed {
		util.DuplicateEventsTotal.WithLabelValues("signature").Inc()
		return nil, badRequest(ErrAlreadySigned, "")
	}

	util.ContractsSignedTotal.Inc()
	e.logger.Info("Contract signed", zap.String("order_id", order.ID), zap.String("client_id", client.ID))
	e.incrementMetrics(ctx, models.MetricsDelta{Day: models.MetricsDay(now), ContractsSigned: 1})
	e.publish(ctx, models.EventTypeContractSigned, order, 0, "")

	out := &Outcome{OrderID: order.ID, Status: order.Status}

	agg, err := e.signedAggregate(ctx, client, order)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	e.sendEmail(ctx, out, notify.KindContractSigned, client.Email, e.emailData(agg))

	if err := e.provisionSigned(ctx, agg, out); err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	return out, nil
}

func (e *Engine) signedAggregate(ctx context.Context, client *models.Client, order *models.Order) (*OrderAggregate, error) {
	agg, err := e.aggregateFor(ctx, order)
	if err != nil {
		return nil, err
	}
	if agg.Client == nil {
		agg.Client = client
	}
	return agg, nil
}

// provisionSigned runs provisioning for an order whose contract is signed.
// A retried signature reaches it directly when a previous attempt failed
// after the signature was stored.
func (e *Engine) provisionSigned(ctx context.Context, agg *OrderAggregate, out *Outcome) error {
	err := e.provision(ctx, agg, out)
	if errors.Is(err, ErrAlreadyProvisioned) {
		// The signature stands; provisioning was claimed elsewhere.
		return nil
	}
	return err
}
