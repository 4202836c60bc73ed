package natsutil

import (
	"testing"

	"github.com/nats-io/nats.go"
)

func TestCarrierSetGet(t *testing.T) {
	msg := &nats.Msg{Subject: "scan.completed"}
	c := (*natsHeaderCarrier)(msg)

	if got := c.Get("traceparent"); got != "" {
		t.Fatalf("empty carrier returned %q", got)
	}
	c.Set("traceparent", "00-abc-def-01")
	if got := c.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("get = %q", got)
	}
	if keys := c.Keys(); len(keys) != 1 {
		t.Fatalf("keys = %v", keys)
	}
}

func TestCarrierKeysNilHeader(t *testing.T) {
	c := (*natsHeaderCarrier)(&nats.Msg{})
	if keys := c.Keys(); keys != nil {
		t.Fatalf("keys = %v", keys)
	}
}
