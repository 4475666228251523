package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bryanveloso/landale-sub014/internal/model"
	"github.com/bryanveloso/landale-sub014/internal/orchestrator"
	"github.com/bryanveloso/landale-sub014/internal/uds"
)

// IDParams addresses one content item.
type IDParams struct {
	ID string `json:"id"`
}

type UpdateContentParams struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

type CategoryParams struct {
	GameID string `json:"game_id"`
}

type PingResult struct {
	Version     uint64 `json:"version"`
	CurrentShow string `json:"current_show"`
	Subscribers int    `json:"subscribers"`
}

type CategoryResult struct {
	CurrentShow string `json:"current_show"`
}

func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.CmdPing, d.handlePing)
	d.server.Handle(uds.CmdSubmit, d.handleSubmit(d.orch.Submit))
	d.server.Handle(uds.CmdTickerAdd, d.handleSubmit(d.orch.AddTickerItem))
	d.server.Handle(uds.CmdRemove, d.handleID(d.orch.Remove))
	d.server.Handle(uds.CmdTickerRemove, d.handleID(d.orch.RemoveTickerItem))
	d.server.Handle(uds.CmdRequestState, d.handleRequestState)
	d.server.Handle(uds.CmdUpdateContent, d.handleUpdateContent)
	d.server.Handle(uds.CmdSetCategory, d.handleSetCategory)
	d.server.Handle(uds.CmdShutdown, d.handleShutdown)
}

func (d *Daemon) handlePing(context.Context, *uds.Request) (any, error) {
	snap := d.orch.CurrentSnapshot()
	return PingResult{
		Version:     snap.Version,
		CurrentShow: snap.CurrentShow,
		Subscribers: d.pub.Len(),
	}, nil
}

type submitFunc func(context.Context, orchestrator.SubmitRequest) (*model.ContentItem, error)

func (d *Daemon) handleSubmit(submit submitFunc) uds.HandlerFunc {
	return func(ctx context.Context, req *uds.Request) (any, error) {
		var params orchestrator.SubmitRequest
		if err := req.DecodeParams(&params); err != nil {
			return nil, err
		}
		return submit(ctx, params)
	}
}

func (d *Daemon) handleID(op func(context.Context, string) error) uds.HandlerFunc {
	return func(ctx context.Context, req *uds.Request) (any, error) {
		var params IDParams
		if err := req.DecodeParams(&params); err != nil {
			return nil, err
		}
		if params.ID == "" {
			return nil, fmt.Errorf("%w: id is required", model.ErrInvalidPayload)
		}
		if err := op(ctx, params.ID); err != nil {
			return nil, err
		}
		return params, nil
	}
}

// handleRequestState reads the committed snapshot without going through the
// command loop.
func (d *Daemon) handleRequestState(context.Context, *uds.Request) (any, error) {
	return d.orch.CurrentSnapshot(), nil
}

func (d *Daemon) handleUpdateContent(ctx context.Context, req *uds.Request) (any, error) {
	var params UpdateContentParams
	if err := req.DecodeParams(&params); err != nil {
		return nil, err
	}
	if params.ID == "" {
		return nil, fmt.Errorf("%w: id is required", model.ErrInvalidPayload)
	}
	if err := d.orch.UpdateContent(ctx, params.ID, params.Payload); err != nil {
		return nil, err
	}
	return IDParams{ID: params.ID}, nil
}

func (d *Daemon) handleSetCategory(ctx context.Context, req *uds.Request) (any, error) {
	var params CategoryParams
	if err := req.DecodeParams(&params); err != nil {
		return nil, err
	}
	if params.GameID == "" {
		return nil, fmt.Errorf("%w: game_id is required", model.ErrInvalidPayload)
	}
	show, err := d.orch.SetCategory(ctx, params.GameID)
	if err != nil {
		return nil, err
	}
	return CategoryResult{CurrentShow: show}, nil
}

func (d *Daemon) handleShutdown(context.Context, *uds.Request) (any, error) {
	d.logger.Info().Msg("shutdown requested over control socket")
	// Respond before the socket goes away.
	go func() {
		time.Sleep(50 * time.Millisecond)
		d.Shutdown()
	}()
	return map[string]string{"status": "stopping"}, nil
}
