package mqtt

import (
	"errors"
	"strings"
	"testing"
)

func TestTopics(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"system status", Topics{}.SystemStatus(), "lumacore/system/status"},
		{"safety state", Topics{}.SafetyState(), "lumacore/safety/state"},
		{"interlocks", Topics{}.Interlocks(), "lumacore/safety/interlocks"},
		{"fault", Topics{}.Fault(), "lumacore/safety/fault"},
		{"events", Topics{}.Events(), "lumacore/events"},
		{"protocol progress", Topics{}.ProtocolProgress(), "lumacore/protocol/progress"},
		{"device health", Topics{}.DeviceHealth("laser"), "lumacore/device/laser/health"},
		{"device health wildcard", Topics{}.AllDeviceHealth(), "lumacore/device/+/health"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{}

	if err := c.Publish("", []byte("x"), 0, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic: err = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("t", []byte("x"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3: err = %v, want ErrInvalidQoS", err)
	}
	big := []byte(strings.Repeat("a", maxPayloadSize+1))
	if err := c.Publish("t", big, 0, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("oversized payload: err = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	if err := c.Subscribe("", 0, func(string, []byte) error { return nil }); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic: err = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("t", 0, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler: err = %v, want ErrSubscribeFailed", err)
	}
}
