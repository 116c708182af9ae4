package routing_test

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/jabolina/go-nrpc/pkg/nrpc/endpoint"
	"github.com/jabolina/go-nrpc/pkg/nrpc/nlog"
	"github.com/jabolina/go-nrpc/pkg/nrpc/schema"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitThisOrTimeout(cb func(), duration time.Duration) bool {
	done := make(chan bool)
	go func() {
		cb()
		done <- true
	}()
	select {
	case <-done:
		return true
	case <-time.After(duration):
		return false
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	return 24000 + int(time.Now().UnixNano()%3000)
}

// pingPongRegistry builds a registry declaring Hello.Ping(ping)->pong and
// binds a server handler that echoes the message back uppercased.
func pingPongRegistry(t *testing.T, bindServer bool) *schema.Registry {
	t.Helper()
	r := schema.NewRegistry()
	err := r.AddTypes(
		[]schema.TypeDescriptor{
			{TypeName: "ping", Fields: []schema.FieldDescriptor{
				{FieldName: "message", FieldType: "str", IDValue: 1, Local: true},
			}},
			{TypeName: "pong", Fields: []schema.FieldDescriptor{
				{FieldName: "reply", FieldType: "str", IDValue: 1, Local: true},
			}},
		},
		[]schema.ServiceDescriptor{
			{ServiceName: "Hello", Methods: []schema.MethodDescriptor{
				{MethodName: "Ping", RequestType: "ping", ResponseType: "pong", IDValue: 1},
			}},
		},
	)
	if err != nil {
		t.Fatalf("pingPongRegistry: AddTypes: %v", err)
	}

	if bindServer {
		err = r.Bind(schema.ServerBinding{
			ServiceName: "Hello",
			Handlers: map[string]schema.Handler{
				"Ping": func(request interface{}) (interface{}, error) {
					return pong{Reply: "pong"}, nil
				},
			},
		})
		if err != nil {
			t.Fatalf("pingPongRegistry: Bind: %v", err)
		}
	}
	return r
}

type ping struct {
	Message string `nrpc:"message"`
}

type pong struct {
	Reply string `nrpc:"reply"`
}

func waitValidated(t *testing.T, client *endpoint.ClientEndpoint) {
	t.Helper()
	if !waitThisOrTimeout(func() {
		for !client.IsValidated() {
			time.Sleep(5 * time.Millisecond)
		}
	}, 2*time.Second) {
		t.Fatal("client never reached the validated state")
	}
}

func newLog() nlog.Logger { return nlog.NewDefault() }
