// Package router turns raw wire frames into handler calls. It is the only
// place that understands the frame envelope; everything past it works with
// decoded records.
package router

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"marketsync/internal/feed"
	"marketsync/internal/handlers"
	"marketsync/internal/metrics"
	"marketsync/internal/models"
	"marketsync/internal/registry"
)

// RoutingResult classifies what one frame turned into.
type RoutingResult int

const (
	ResultSnapshot RoutingResult = iota
	ResultIncrement
	ResultHeartbeat
	ResultControl
	ResultUnknownChannel
	ResultDecodeError
)

func (r RoutingResult) String() string {
	switch r {
	case ResultSnapshot:
		return "snapshot"
	case ResultIncrement:
		return "increment"
	case ResultHeartbeat:
		return "heartbeat"
	case ResultControl:
		return "control"
	case ResultUnknownChannel:
		return "unknown_channel"
	case ResultDecodeError:
		return "decode_error"
	}
	return "unknown"
}

// controlEvent is the JSON-object side of the wire protocol.
type controlEvent struct {
	Event     string `json:"event"`
	Channel   string `json:"channel"`
	ChannelID int64  `json:"channelId"`
	Symbol    string `json:"symbol"`
	Code      int    `json:"code"`
	Msg       string `json:"msg"`
}

// Router dispatches frames to the per-kind handlers. A frame never takes
// the pipeline down: malformed input is counted and dropped.
type Router struct {
	logger    *logrus.Logger
	registry  *registry.Registry
	handlers  *handlers.Set
	collector *metrics.Collector
}

func New(reg *registry.Registry, set *handlers.Set, collector *metrics.Collector, logger *logrus.Logger) *Router {
	return &Router{
		logger:    logger,
		registry:  reg,
		handlers:  set,
		collector: collector,
	}
}

// Run consumes frames until the channel closes.
func (r *Router) Run(frames <-chan feed.RawFrame) {
	for frame := range frames {
		r.Route(frame)
	}
}

// Route processes one frame and reports what it was.
func (r *Router) Route(frame feed.RawFrame) RoutingResult {
	defer metrics.TrackLatency(frame.ReceivedAt, metrics.RoutingDuration)

	data := firstByte(frame.Data)
	switch data {
	case '{':
		return r.routeControl(frame.Data)
	case '[':
		return r.routeData(frame)
	default:
		r.recordDecodeError()
		r.logger.WithField("frame", truncate(frame.Data)).Warn("Unrecognized frame shape")
		return ResultDecodeError
	}
}

func (r *Router) routeControl(data []byte) RoutingResult {
	var ev controlEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		r.recordDecodeError()
		r.logger.WithError(err).Warn("Malformed control event")
		return ResultDecodeError
	}

	switch ev.Event {
	case "subscribed":
		kind, err := models.ParseKind(ev.Channel)
		if err != nil {
			r.recordDecodeError()
			r.logger.WithError(err).WithField("channel", ev.Channel).Warn("Subscribe ack for unknown kind")
			return ResultDecodeError
		}
		r.registry.Register(ev.ChannelID, ev.Symbol, kind)
		r.logger.WithFields(logrus.Fields{
			"channel_id": ev.ChannelID,
			"symbol":     ev.Symbol,
			"kind":       kind,
		}).Info("📡 Channel subscribed")
	case "unsubscribed":
		if sub, ok := r.registry.Get(ev.ChannelID); ok {
			r.registry.Unregister(ev.ChannelID)
			if r.handlers != nil {
				r.handlers.DropSymbol(sub.Kind, sub.Symbol)
			}
			r.logger.WithFields(logrus.Fields{
				"channel_id": ev.ChannelID,
				"symbol":     sub.Symbol,
				"kind":       sub.Kind,
			}).Info("Channel unsubscribed")
		}
	case "error":
		r.logger.WithFields(logrus.Fields{
			"code": ev.Code,
			"msg":  ev.Msg,
		}).Error("Upstream error event")
	case "info", "pong":
		r.logger.WithField("event", ev.Event).Debug("Upstream control event")
	default:
		r.logger.WithField("event", ev.Event).Debug("Ignoring control event")
	}

	return ResultControl
}

func (r *Router) routeData(frame feed.RawFrame) RoutingResult {
	var envelope []json.RawMessage
	if err := json.Unmarshal(frame.Data, &envelope); err != nil || len(envelope) != 2 {
		r.recordDecodeError()
		r.logger.WithField("frame", truncate(frame.Data)).Warn("Malformed data frame")
		return ResultDecodeError
	}

	var channelID int64
	if err := json.Unmarshal(envelope[0], &channelID); err != nil {
		r.recordDecodeError()
		r.logger.Warn("Data frame with non-numeric channel id")
		return ResultDecodeError
	}

	payload := envelope[1]

	// Heartbeats refresh liveness and carry no data.
	if isHeartbeat(payload) {
		if r.registry.Touch(channelID, frame.ReceivedAt) {
			return ResultHeartbeat
		}
		r.recordUnknownChannel()
		return ResultUnknownChannel
	}

	sub, ok := r.registry.Get(channelID)
	if !ok {
		r.recordUnknownChannel()
		r.logger.WithField("channel_id", channelID).Debug("Frame for unknown channel dropped")
		return ResultUnknownChannel
	}

	handler, ok := r.handlers.For(sub.Kind)
	if !ok {
		r.recordDecodeError()
		return ResultDecodeError
	}

	snapshot, records, err := splitPayload(payload)
	if err != nil {
		r.recordDecodeError()
		r.logger.WithError(err).WithFields(logrus.Fields{
			"channel_id": channelID,
			"symbol":     sub.Symbol,
		}).Warn("Undecodable payload")
		return ResultDecodeError
	}

	if snapshot {
		err = handler.ApplySnapshot(sub.Symbol, records)
	} else {
		err = handler.ApplyIncrement(sub.Symbol, records[0])
	}
	if err != nil {
		r.recordDecodeError()
		r.logger.WithError(err).WithFields(logrus.Fields{
			"channel_id": channelID,
			"symbol":     sub.Symbol,
			"kind":       sub.Kind,
		}).Warn("Handler rejected payload")
		return ResultDecodeError
	}

	// Applied cleanly, so the channel (and by extension the whole link)
	// is demonstrably alive.
	r.registry.Touch(channelID, frame.ReceivedAt)
	if r.collector != nil {
		r.collector.RecordMessage(channelID, sub.Symbol, sub.Kind)
	}

	if snapshot {
		return ResultSnapshot
	}
	return ResultIncrement
}

// splitPayload decides snapshot vs increment by the payload's first
// element: an array of arrays is a snapshot, a flat array one increment.
func splitPayload(payload json.RawMessage) (snapshot bool, records []models.Record, err error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(payload, &elems); err != nil {
		return false, nil, fmt.Errorf("payload is not an array: %w", err)
	}
	if len(elems) == 0 {
		// An empty snapshot is a legal way to say "nothing yet".
		return true, nil, nil
	}

	if firstByte(elems[0]) == '[' {
		records = make([]models.Record, 0, len(elems))
		for _, e := range elems {
			var rec models.Record
			if err := json.Unmarshal(e, &rec); err != nil {
				return false, nil, fmt.Errorf("snapshot record: %w", err)
			}
			records = append(records, rec)
		}
		return true, records, nil
	}

	var rec models.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return false, nil, fmt.Errorf("increment record: %w", err)
	}
	return false, []models.Record{rec}, nil
}

func isHeartbeat(payload json.RawMessage) bool {
	var s string
	return json.Unmarshal(payload, &s) == nil && s == "hb"
}

func firstByte(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}

func truncate(data []byte) string {
	const max = 120
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}

func (r *Router) recordDecodeError() {
	if r.collector != nil {
		r.collector.RecordDecodeError()
	}
}

func (r *Router) recordUnknownChannel() {
	if r.collector != nil {
		r.collector.RecordUnknownChannel()
	}
}
