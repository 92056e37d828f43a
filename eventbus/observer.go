package eventbus

import (
	"context"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/GoCodeAlone/ratevent/internal/rvlog"
)

// CloudEventObserver mirrors every posted or dead event onto a
// CloudEvents sink. It is entirely optional and best-effort: a send
// failure is logged, never returned to the poster, since observability
// must never gate delivery.
type CloudEventObserver struct {
	Client cloudevents.Client
	Source string
	Logger rvlog.Logger
}

// NewCloudEventObserver builds an observer that sends through client,
// tagging every CloudEvent with source.
func NewCloudEventObserver(client cloudevents.Client, source string, logger rvlog.Logger) *CloudEventObserver {
	return &CloudEventObserver{Client: client, Source: source, Logger: rvlog.OrNoop(logger)}
}

// observe fires a best-effort CloudEvent of the given type, carrying a
// JSON-serializable summary of data. The bus calls it synchronously
// from Post; the event is encoded on that goroutine and sent from a
// freshly spawned one, so a slow or unreachable sink never adds
// latency to Post.
func (o *CloudEventObserver) observe(eventType string, data map[string]any) {
	if o == nil || o.Client == nil {
		return
	}
	ev := cloudevents.NewEvent()
	ev.SetType(eventType)
	ev.SetSource(o.Source)
	if err := ev.SetData(cloudevents.ApplicationJSON, data); err != nil {
		o.Logger.Warn("eventbus: cloudevent encode failed", "type", eventType, "error", err)
		return
	}
	go func() {
		ctx := context.Background()
		if result := o.Client.Send(ctx, ev); cloudevents.IsUndelivered(result) {
			o.Logger.Warn("eventbus: cloudevent send failed", "type", eventType, "error", result)
		}
	}()
}
