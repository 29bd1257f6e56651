package frame

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/morezero/embedrpc/pkg/bridge"
)

const dispatcherTestPrefix = "frame:dispatcher_test"

func callMessage(procedure, params string) *bridge.Message {
	msg := &bridge.Message{
		Type:          bridge.TypeCall,
		ContextID:     "ctx-1",
		CorrelationID: "abc-1",
		ProcedureName: procedure,
	}
	if params != "" {
		msg.Params = json.RawMessage(params)
	}
	return msg
}

func TestDispatch_UnknownProcedure(t *testing.T) {
	d := NewDispatcher()

	resp := d.Dispatch(context.Background(), callMessage("nonexistent", ""))

	if resp.Type != bridge.TypeResult {
		t.Errorf("%s - Type = %q, want result", dispatcherTestPrefix, resp.Type)
	}
	if resp.CorrelationID != "abc-1" || resp.ContextID != "ctx-1" {
		t.Errorf("%s - ids not preserved: %+v", dispatcherTestPrefix, resp)
	}
	if text, failed := resp.Failure(); !failed || text != "Unknown procedure: nonexistent" {
		t.Errorf("%s - ErrorMessage = %q (failed=%v)", dispatcherTestPrefix, text, failed)
	}
}

func TestDispatch_Routing(t *testing.T) {
	d := NewDispatcher()
	d.Register("sum", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var in []int
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, err
		}
		total := 0
		for _, n := range in {
			total += n
		}
		return total, nil
	})
	d.Register("fail", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, errors.New("insufficient funds")
	})
	d.Register("silentFail", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, errors.New("")
	})
	d.Register("unencodable", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return make(chan int), nil
	})
	d.Register("nothing", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, nil
	})

	tests := []struct {
		name       string
		procedure  string
		params     string
		wantResult string
		wantError  string
	}{
		{name: "result", procedure: "sum", params: "[1,2,3]", wantResult: "6"},
		{name: "handler error", procedure: "fail", wantError: "insufficient funds"},
		{name: "empty handler error", procedure: "silentFail", wantError: "procedure failed"},
		{name: "bad params", procedure: "sum", params: `{"a":1}`, wantError: "json: cannot unmarshal object into Go value of type []int"},
		{name: "nil result", procedure: "nothing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := d.Dispatch(context.Background(), callMessage(tt.procedure, tt.params))
			text, failed := resp.Failure()
			if failed != (tt.wantError != "") || text != tt.wantError {
				t.Errorf("%s - ErrorMessage = %q (failed=%v), want %q", dispatcherTestPrefix, text, failed, tt.wantError)
			}
			if string(resp.Result) != tt.wantResult {
				t.Errorf("%s - Result = %q, want %q", dispatcherTestPrefix, resp.Result, tt.wantResult)
			}
		})
	}

	resp := d.Dispatch(context.Background(), callMessage("unencodable", ""))
	if text, failed := resp.Failure(); !failed || text == "" {
		t.Errorf("%s - expected encode failure to be reported", dispatcherTestPrefix)
	}
}

func TestDispatcher_Procedures(t *testing.T) {
	d := NewDispatcher()
	RegisterBuiltins(d)
	d.Register("alpha", func(context.Context, json.RawMessage) (interface{}, error) { return nil, nil })

	want := []string{"alpha", "echo", "getInitVars", "getStatus"}
	if got := d.Procedures(); !reflect.DeepEqual(got, want) {
		t.Errorf("%s - Procedures() = %v, want %v", dispatcherTestPrefix, got, want)
	}
}

func TestBuiltins(t *testing.T) {
	d := NewDispatcher()
	RegisterBuiltins(d)

	resp := d.Dispatch(context.Background(), callMessage("getStatus", ""))
	if string(resp.Result) != `{"status":"ready"}` {
		t.Errorf("%s - getStatus = %s", dispatcherTestPrefix, resp.Result)
	}

	resp = d.Dispatch(context.Background(), callMessage("echo", `{"x":[1,"two"]}`))
	if string(resp.Result) != `{"x":[1,"two"]}` {
		t.Errorf("%s - echo = %s", dispatcherTestPrefix, resp.Result)
	}

	resp = d.Dispatch(context.Background(), callMessage("getInitVars", ""))
	if text, _ := resp.Failure(); text != "init payload not received" {
		t.Errorf("%s - getInitVars without init: %q", dispatcherTestPrefix, text)
	}

	ctx := WithInitVars(context.Background(), map[string]interface{}{"theme": "dark"})
	resp = d.Dispatch(ctx, callMessage("getInitVars", ""))
	if string(resp.Result) != `{"theme":"dark"}` {
		t.Errorf("%s - getInitVars = %s", dispatcherTestPrefix, resp.Result)
	}
}
