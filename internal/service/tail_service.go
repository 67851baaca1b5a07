package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/execsync/internal/domain"
)

// tailPageSize is how many stream entries one replay read fetches.
const tailPageSize = 100

// TailOptions selects what Tail delivers.
type TailOptions struct {
	// Replay reads the fill stream after FromID before anything else.
	Replay bool
	// FromID is the stream id to replay after. Empty means the beginning.
	FromID string
	// Follow keeps delivering fills published on the channel until ctx ends.
	Follow bool
}

// TailService reads back the fills watch cycles fan out through the bus.
type TailService struct {
	bus     domain.SignalBus
	channel string
	stream  string
	logger  *slog.Logger
}

// NewTailService creates a TailService over the given channel and stream.
func NewTailService(bus domain.SignalBus, channel, stream string, logger *slog.Logger) *TailService {
	return &TailService{
		bus:     bus,
		channel: channel,
		stream:  stream,
		logger:  logger.With(slog.String("component", "tail_service")),
	}
}

// Tail calls fn for every fill selected by opts, in stream order for the
// replay and arrival order after it. When following, the channel is
// subscribed before the replay starts and fills already replayed are not
// delivered twice. An error from fn stops Tail and is returned.
func (s *TailService) Tail(ctx context.Context, opts TailOptions, fn func(domain.FillRecord) error) error {
	if !opts.Replay && !opts.Follow {
		return nil
	}
	if opts.Replay && s.stream == "" {
		return fmt.Errorf("tail_service: replay needs a stream")
	}
	if opts.Follow && s.channel == "" {
		return fmt.Errorf("tail_service: follow needs a channel")
	}

	var live <-chan []byte
	if opts.Follow {
		ch, err := s.bus.Subscribe(ctx, s.channel)
		if err != nil {
			return fmt.Errorf("tail_service: %w", err)
		}
		live = ch
	}

	replayed := map[string]bool{}
	if opts.Replay {
		if err := s.replay(ctx, opts.FromID, func(f domain.FillRecord) error {
			replayed[f.ExecID] = true
			return fn(f)
		}); err != nil {
			return err
		}
	}

	if live == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-live:
			if !ok {
				return ctx.Err()
			}
			f, ok := s.decode(payload)
			if !ok || replayed[f.ExecID] {
				continue
			}
			if err := fn(f); err != nil {
				return err
			}
		}
	}
}

func (s *TailService) replay(ctx context.Context, fromID string, fn func(domain.FillRecord) error) error {
	lastID := fromID
	if lastID == "" {
		lastID = "0"
	}
	for {
		msgs, err := s.bus.StreamRead(ctx, s.stream, lastID, tailPageSize)
		if err != nil {
			return fmt.Errorf("tail_service: replay: %w", err)
		}
		if len(msgs) == 0 {
			return nil
		}
		for _, m := range msgs {
			lastID = m.ID
			f, ok := s.decode(m.Payload)
			if !ok {
				continue
			}
			if err := fn(f); err != nil {
				return err
			}
		}
	}
}

// decode parses a published fill. Malformed payloads are logged and dropped.
func (s *TailService) decode(payload []byte) (domain.FillRecord, bool) {
	var f domain.FillRecord
	if err := json.Unmarshal(payload, &f); err != nil || f.ExecID == "" {
		s.logger.Warn("dropping malformed fill payload",
			slog.Int("bytes", len(payload)),
		)
		return domain.FillRecord{}, false
	}
	return f, true
}
