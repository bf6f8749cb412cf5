package mq

import (
	"fmt"
	"strings"
	"testing"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		match  bool
	}{
		// Exact matches
		{"test/topic", "test/topic", true},
		{"test/topic", "test/other", false},

		// Single-level wildcard (+)
		{"test/+", "test/topic", true},
		{"test/+", "test/other", true},
		{"test/+", "test/topic/sub", false},
		{"test/+/sub", "test/topic/sub", true},
		{"+/topic", "test/topic", true},
		{"+/+", "test/topic", true},

		// Multi-level wildcard (#)
		{"test/#", "test/topic", true},
		{"test/#", "test/topic/sub", true},
		{"test/#", "test/topic/sub/deep", true},
		{"test/#", "other/topic", false},
		{"#", "any/topic/here", true},
		{"test/topic/#", "test/topic", true},
		{"test/topic/#", "test/topic/sub", true},

		// Combined wildcards
		{"+/+/#", "test/topic/sub/deep", true},
		{"test/+/#", "test/topic/sub", true},

		// Edge cases
		{"", "", true},
		{"test", "test", true},
		{"test/", "test/", true},
	}

	for _, tt := range tests {
		t.Run(tt.filter+"_vs_"+tt.topic, func(t *testing.T) {
			result := matchTopic(tt.filter, tt.topic)
			if result != tt.match {
				t.Errorf("matchTopic(%q, %q) = %v, want %v", tt.filter, tt.topic, result, tt.match)
			}
		})
	}
}

func ExampleMatchTopic() {
	filter := "sensors/+/temperature"
	topic1 := "sensors/living-room/temperature"
	topic2 := "sensors/kitchen/humidity"

	fmt.Printf("%s matches %s: %v\n", topic1, filter, matchTopic(filter, topic1))
	fmt.Printf("%s matches %s: %v\n", topic2, filter, matchTopic(filter, topic2))

	filterHash := "sensors/#"
	topic3 := "sensors/basement/temperature/current"
	fmt.Printf("%s matches %s: %v\n", topic3, filterHash, matchTopic(filterHash, topic3))

	// Output:
	// sensors/living-room/temperature matches sensors/+/temperature: true
	// sensors/kitchen/humidity matches sensors/+/temperature: false
	// sensors/basement/temperature/current matches sensors/#: true
}

func TestValidatePublishTopic(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		wantErr bool
	}{
		{"valid simple", "sensors/temperature", false},
		{"valid multi-level", "home/room1/sensor/temp", false},
		{"empty topic", "", true},
		{"wildcard plus", "sensors/+/temp", true},
		{"wildcard hash", "sensors/#", true},
		{"null byte", "sensors\x00temp", true},
		{"too long", strings.Repeat("a", DefaultMaxTopicLength+1), true},
		{"max length ok", strings.Repeat("a", DefaultMaxTopicLength), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePublishTopic(tt.topic, 0)
			if (err != nil) != tt.wantErr {
				t.Errorf("validatePublishTopic() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSubscribeTopic(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		wantErr bool
	}{
		{"valid simple", "sensors/temperature", false},
		{"valid single wildcard", "sensors/+/temp", false},
		{"valid multi wildcard", "sensors/#", false},
		{"valid multi wildcard deep", "sensors/room1/#", false},
		{"valid all wildcard", "#", false},
		{"valid multiple plus", "+/+/+", false},
		{"empty topic", "", true},
		{"invalid plus not alone", "sensors/+temp/data", true},
		{"invalid hash not alone", "sensors/#temp", true},
		{"invalid hash not last", "sensors/#/temp", true},
		{"null byte", "sensors\x00temp", true},
		{"too long", strings.Repeat("a", DefaultMaxTopicLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSubscribeTopic(tt.topic, 0)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateSubscribeTopic() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"empty", 0, false},
		{"small", 100, false},
		{"1MB", 1024 * 1024, false},
		{"max size", DefaultMaxPayloadSize, false},
		{"too large", DefaultMaxPayloadSize + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := make([]byte, tt.size)
			err := validatePayload(payload, 0)
			if (err != nil) != tt.wantErr {
				t.Errorf("validatePayload() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// FuzzValidatePublishTopic fuzzes publish topic validation
func FuzzValidatePublishTopic(f *testing.F) {
	f.Add("sensors/temperature")
	f.Add("home/room1/temp")
	f.Add("")
	f.Add("sensors/+/temp")
	f.Add("sensors/#")

	f.Fuzz(func(t *testing.T, topic string) {
		_ = validatePublishTopic(topic, 0)
	})
}

// FuzzValidateSubscribeTopic fuzzes subscribe topic validation
func FuzzValidateSubscribeTopic(f *testing.F) {
	f.Add("sensors/temperature")
	f.Add("sensors/+/temp")
	f.Add("sensors/#")
	f.Add("+/+/+")
	f.Add("#")

	f.Fuzz(func(t *testing.T, topic string) {
		_ = validateSubscribeTopic(topic, 0)
	})
}

// TestCustomTopicLimit verifies that custom topic length limits are enforced
func TestCustomTopicLimit(t *testing.T) {
	const limit = 10

	if err := validatePublishTopic("short", limit); err != nil {
		t.Errorf("Expected short topic to pass, got error: %v", err)
	}

	if err := validatePublishTopic("this-is-too-long", limit); err == nil {
		t.Error("Expected long topic to fail with custom limit")
	}

	if err := validateSubscribeTopic("short", limit); err != nil {
		t.Errorf("Expected short topic filter to pass, got error: %v", err)
	}

	if err := validateSubscribeTopic("this-is-too-long", limit); err == nil {
		t.Error("Expected long topic filter to fail with custom limit")
	}
}

// TestCustomPayloadLimit verifies that custom payload size limits are enforced
func TestCustomPayloadLimit(t *testing.T) {
	const limit = 100

	smallPayload := make([]byte, 50)
	if err := validatePayload(smallPayload, limit); err != nil {
		t.Errorf("Expected small payload to pass, got error: %v", err)
	}

	largePayload := make([]byte, 200)
	if err := validatePayload(largePayload, limit); err == nil {
		t.Error("Expected large payload to fail with custom limit")
	}
}

// TestDefaultLimitsWhenNotSet verifies that defaults are used when limits are 0
func TestDefaultLimitsWhenNotSet(t *testing.T) {
	longTopic := strings.Repeat("a", DefaultMaxTopicLength)
	if err := validatePublishTopic(longTopic, 0); err != nil {
		t.Errorf("Expected topic at default max to pass, got error: %v", err)
	}

	tooLongTopic := strings.Repeat("a", DefaultMaxTopicLength+1)
	if err := validatePublishTopic(tooLongTopic, 0); err == nil {
		t.Error("Expected topic over default max to fail")
	}
}

// FuzzMatchTopic fuzzes the topic matching function to find edge cases
func FuzzMatchTopic(f *testing.F) {
	f.Add("sensors/+/temperature", "sensors/living-room/temperature")
	f.Add("sensors/#", "sensors/living-room/temperature")
	f.Add("sensors/#", "sensors/living-room/temperature/current")
	f.Add("sensors/+/+", "sensors/room1/temp")
	f.Add("+/+/+", "a/b/c")
	f.Add("#", "any/topic/here")
	f.Add("exact/match", "exact/match")
	f.Add("no/match", "different/topic")

	f.Fuzz(func(t *testing.T, filter, topic string) {
		_ = matchTopic(filter, topic)
	})
}

// TestTopicMatch_WildcardStartingWithDollar_Compliance ensures we abide by MQTT-4.7.2-1.
// Although the spec specifies "Server", we follow this rule for client-side
// message dispatching to match expected MQTT behavior.
func TestTopicMatch_WildcardStartingWithDollar_Compliance(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		match  bool
	}{
		// Should NOT match (Rule MQTT-4.7.2-1)
		{"#", "$SYS/broker/version", false},
		{"+/monitor", "$SYS/monitor", false},
		{"+/+", "$SYS/broker", false},
		{"#", "$share/group/topic", false},

		// Should match (normal cases)
		{"#", "a/b/c", true},
		{"+/monitor", "a/monitor", true},

		// Filter does NOT start with wildcard, so it can match $ topic levels
		// if they are not the first level.
		{"a/+/c", "a/$SYS/c", true},
	}

	for _, tt := range tests {
		t.Run(tt.filter+"_vs_"+tt.topic, func(t *testing.T) {
			result := matchTopic(tt.filter, tt.topic)
			if result != tt.match {
				t.Errorf("matchTopic(%q, %q) = %v, want %v", tt.filter, tt.topic, result, tt.match)
			}
		})
	}
}
