// Package natsutil provides typed NATS publish/subscribe/request helpers
// with OpenTelemetry trace propagation.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Reply wraps a response so handler errors reach the requester.
type Reply[T any] struct {
	Data  T      `json:"data"`
	Error string `json:"error,omitempty"`
}

// ErrRemote is wrapped around errors returned by a Serve handler.
var ErrRemote = errors.New("remote handler failed")

// encode builds a message carrying v as JSON and the trace context of ctx.
func encode[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return msg, nil
}

// decode is the inverse of encode.
func decode[T any](msg *nats.Msg) (context.Context, T, error) {
	var v T
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		return nil, v, err
	}
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
	return ctx, v, nil
}

// Publish serializes v as JSON and publishes to the given subject.
// Trace context from ctx is injected into NATS message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	msg, err := encode(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Subscribe registers a handler that deserializes JSON messages of type T.
// Trace context is extracted from NATS message headers and passed to the handler.
// Malformed messages are logged and dropped.
func Subscribe[T any](nc *nats.Conn, subject string, log *slog.Logger, handler func(context.Context, T)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx, v, err := decode[T](msg)
		if err != nil {
			log.Warn("dropping malformed message", "subject", msg.Subject, "err", err)
			return
		}
		handler(ctx, v)
	})
}

// Request sends a JSON-encoded request to a Serve handler and decodes its
// Reply. The deadline comes from ctx.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req) (Resp, error) {
	var zero Resp
	msg, err := encode(ctx, subject, req)
	if err != nil {
		return zero, err
	}
	resp, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return zero, err
	}
	return unwrapReply[Resp](resp.Data)
}

func unwrapReply[Resp any](data []byte) (Resp, error) {
	var r Reply[Resp]
	if err := json.Unmarshal(data, &r); err != nil {
		return r.Data, err
	}
	if r.Error != "" {
		return r.Data, errors.Join(ErrRemote, errors.New(r.Error))
	}
	return r.Data, nil
}

// Serve answers requests on subject within a queue group. The handler's
// error travels back in the Reply; data accompanying an error is still sent.
func Serve[Req, Resp any](nc *nats.Conn, subject, queue string, log *slog.Logger, handler func(context.Context, Req) (Resp, error)) (*nats.Subscription, error) {
	return nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		out := respond(msg, handler)
		if err := msg.Respond(out); err != nil {
			log.Error("reply failed", "subject", subject, "err", err)
		}
	})
}

func respond[Req, Resp any](msg *nats.Msg, handler func(context.Context, Req) (Resp, error)) []byte {
	var reply Reply[Resp]
	ctx, req, err := decode[Req](msg)
	if err == nil {
		reply.Data, err = handler(ctx, req)
	}
	if err != nil {
		reply.Error = err.Error()
	}
	data, err := json.Marshal(reply)
	if err != nil {
		data, _ = json.Marshal(Reply[struct{}]{Error: err.Error()})
	}
	return data
}
