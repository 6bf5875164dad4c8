package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/shaiso/Labrun/internal/domain"
	"github.com/shaiso/Labrun/internal/mq"
)

// CommandHandler возвращает обработчик очереди команд start/stop.
func (o *Orchestrator) CommandHandler() mq.Handler {
	return o.handleCommand
}

// ConfirmationHandler возвращает обработчик очереди подтверждений.
func (o *Orchestrator) ConfirmationHandler() mq.Handler {
	return o.handleConfirmation
}

// handleCommand обрабатывает {command, testId}.
func (o *Orchestrator) handleCommand(ctx context.Context, delivery *mq.Delivery) error {
	cmd, err := mq.DecodeJSON[domain.Command](delivery)
	if err != nil {
		o.logger.Error("failed to parse command", "error", err)
		return err
	}

	cmd.Command = domain.CommandType(strings.ToLower(strings.TrimSpace(string(cmd.Command))))
	cmd.TestID = strings.TrimSpace(cmd.TestID)

	if cmd.TestID == "" {
		return fmt.Errorf("%w: command without testId", mq.ErrMalformed)
	}

	o.logger.Debug("received command", "command", cmd.Command, "test_id", cmd.TestID)

	return o.HandleCommand(cmd)
}

// handleConfirmation обрабатывает {testId, confirmed}.
func (o *Orchestrator) handleConfirmation(ctx context.Context, delivery *mq.Delivery) error {
	c, err := mq.DecodeJSON[domain.Confirmation](delivery)
	if err != nil {
		o.logger.Error("failed to parse confirmation", "error", err)
		return err
	}

	if c.TestID == "" {
		return fmt.Errorf("%w: confirmation without testId", mq.ErrMalformed)
	}

	// Подтверждение без ожидающего запроса отбрасывается, это не ошибка доставки.
	_ = o.Confirm(c.TestID, c.Confirmed)
	return nil
}
