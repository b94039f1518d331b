package restyutil

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

type InstrumentOutput interface {
	Write(id string, contents string)
}

type contextKey string

const (
	messageIdKey contextKey = "godric.restyutil.message_id"
	sensitiveKey contextKey = "godric.restyutil.sensitive"
)

// WithSensitiveBody marks requests made with the returned context so their
// bodies are never written to an output.
func WithSensitiveBody(ctx context.Context) context.Context {
	return context.WithValue(ctx, sensitiveKey, true)
}

func isSensitive(ctx context.Context) bool {
	sensitive, _ := ctx.Value(sensitiveKey).(bool)
	return sensitive
}

type instrumentCtx struct {
	name      string
	output    InstrumentOutput
	idcounter *uint64
}

// InstrumentClient writes every completed exchange made by the client to
// `output`, the message ids are prefixed with `name`.
// `output` can be nil, if it is, then the function is a no-op.
func InstrumentClient(client *resty.Client, name string, output InstrumentOutput) {
	if output == nil {
		return
	}

	var idcounter uint64
	i := instrumentCtx{name: name, output: output, idcounter: &idcounter}
	client.OnBeforeRequest(i.onBeforeRequest)
	client.OnAfterResponse(i.onAfterResponse)
	client.OnError(i.onError)
}

func (i instrumentCtx) onBeforeRequest(_ *resty.Client, req *resty.Request) error {
	messageId := i.name + "-" + strconv.FormatUint(atomic.AddUint64(i.idcounter, 1), 10)
	ctx := context.WithValue(req.Context(), messageIdKey, messageId)
	slog.DebugContext(
		ctx, "start request",
		"method", req.Method,
		"url", req.URL,
		"message_id", messageId,
	)
	req.SetContext(ctx)
	return nil
}

func (i instrumentCtx) onAfterResponse(_ *resty.Client, res *resty.Response) error {
	ctx := res.Request.Context()
	messageId, ok := ctx.Value(messageIdKey).(string)
	if !ok {
		return nil
	}
	i.output.Write(messageId, formatHttpMessage(res, isSensitive(ctx)))
	slog.DebugContext(
		ctx, "request finished",
		"method", res.Request.Method,
		"url", res.Request.URL,
		"status", res.StatusCode(),
		"message_id", messageId,
	)
	return nil
}

func (i instrumentCtx) onError(req *resty.Request, err error) {
	messageId, _ := req.Context().Value(messageIdKey).(string)
	slog.DebugContext(
		req.Context(), "request failed",
		"method", req.Method,
		"url", req.URL,
		"err", err,
		"message_id", messageId,
	)
}
