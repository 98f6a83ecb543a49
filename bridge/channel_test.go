package bridge

import (
	"encoding/json"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestParseChannel(t *testing.T) {
	tests := []struct {
		topic string
		want  Channel
		tag   string
	}{
		{"anemometer", ChannelAnemometer, "anm"},
		{"sps30", ChannelSPS30, "sps"},
		{"imu", ChannelIMU, "imu"},
		{"status", ChannelStatus, "status"},
		{"Anemometer", ChannelUnknown, ""},
		{"sps30/extra", ChannelUnknown, ""},
		{"", ChannelUnknown, ""},
	}
	for _, tt := range tests {
		got := ParseChannel(tt.topic)
		if got != tt.want {
			t.Errorf("ParseChannel(%q) = %v, want %v", tt.topic, got, tt.want)
		}
		if got.Tag() != tt.tag {
			t.Errorf("%v.Tag() = %q, want %q", got, got.Tag(), tt.tag)
		}
		if tt.want != ChannelUnknown {
			if got.Topic() != tt.topic || got.String() != tt.topic {
				t.Errorf("%v.Topic() = %q", got, got.Topic())
			}
			if channelForTag(tt.tag) != got {
				t.Errorf("channelForTag(%q) = %v", tt.tag, channelForTag(tt.tag))
			}
		}
	}
	if ChannelUnknown.String() != "unknown" {
		t.Errorf("ChannelUnknown.String() = %q", ChannelUnknown.String())
	}
}

func TestSubscribeTopics(t *testing.T) {
	want := []string{"anemometer", "sps30", "imu", "status"}
	got := SubscribeTopics()
	if len(got) != len(want) {
		t.Fatalf("SubscribeTopics() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SubscribeTopics()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRelabel(t *testing.T) {
	tests := []struct {
		name string
		in   string
		ch   Channel
		want string
	}{
		{"appends tag", `{"value":1}`, ChannelSPS30, `{"value":1,"topic":"sps"}`},
		{"overwrites in place", `{"topic":"x","v":2}`, ChannelIMU, `{"topic":"imu","v":2}`},
		{"compacts", "{ \"speed\" : 3.5 }", ChannelAnemometer, `{"speed":3.5,"topic":"anm"}`},
		{"empty object", `{}`, ChannelStatus, `{"topic":"status"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Relabel([]byte(tt.in), tt.ch)
			if err != nil {
				t.Fatalf("Relabel() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Relabel() = %s, want %s", got, tt.want)
			}
		})
	}

	for _, bad := range []string{`[1]`, `"x"`, `{"a":`} {
		if _, err := Relabel([]byte(bad), ChannelIMU); err == nil {
			t.Errorf("Relabel(%s) expected error", bad)
		}
	}
}

func TestRelabelIdempotent(t *testing.T) {
	channels := []Channel{ChannelAnemometer, ChannelSPS30, ChannelIMU, ChannelStatus}

	rapid.Check(t, func(t *rapid.T) {
		fields := rapid.MapOf(rapid.StringMatching(`[a-z]{1,8}`), rapid.IntRange(-1000000, 1000000)).Draw(t, "fields")
		ch := rapid.SampledFrom(channels).Draw(t, "channel")

		in, err := json.Marshal(fields)
		if err != nil {
			t.Fatal(err)
		}

		once, err := Relabel(in, ch)
		if err != nil {
			t.Fatalf("Relabel(%s) error = %v", in, err)
		}
		twice, err := Relabel(once, ch)
		if err != nil {
			t.Fatalf("Relabel(%s) error = %v", once, err)
		}
		if string(once) != string(twice) {
			t.Fatalf("not idempotent: %s then %s", once, twice)
		}

		var decoded map[string]any
		if err := json.Unmarshal(once, &decoded); err != nil {
			t.Fatalf("invalid output %s: %v", once, err)
		}
		if decoded[TopicField] != ch.Tag() {
			t.Fatalf("topic = %v, want %s", decoded[TopicField], ch.Tag())
		}
		for k, v := range fields {
			if k == TopicField {
				continue
			}
			if decoded[k] != float64(v) {
				t.Fatalf("field %s = %v, want %d", k, decoded[k], v)
			}
		}
	})
}

func TestRateFilter(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewRateFilter(10*time.Second, t0)

	steps := []struct {
		at   time.Duration
		want bool
	}{
		{5 * time.Second, false},
		{10 * time.Second, true},
		{15 * time.Second, false},
		{19 * time.Second, false},
		{20 * time.Second, true},
	}
	for _, s := range steps {
		if got := f.Allow(t0.Add(s.at)); got != s.want {
			t.Errorf("Allow(+%s) = %v, want %v", s.at, got, s.want)
		}
	}

	f.SetInterval(0)
	if !f.Allow(t0.Add(20*time.Second)) || !f.Allow(t0.Add(20*time.Second)) {
		t.Error("zero interval should accept everything")
	}

	f.SetInterval(-time.Second)
	if f.Interval() != 0 {
		t.Errorf("Interval() = %s, want 0 for negative input", f.Interval())
	}
}

func TestRateFilterSpacing(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		interval := time.Duration(rapid.IntRange(0, 5000).Draw(t, "interval_ms")) * time.Millisecond
		gaps := rapid.SliceOf(rapid.IntRange(0, 3000)).Draw(t, "gaps_ms")

		start := time.Unix(0, 0)
		f := NewRateFilter(interval, start)
		last := start
		now := start

		for _, gap := range gaps {
			now = now.Add(time.Duration(gap) * time.Millisecond)
			accepted := f.Allow(now)
			if want := now.Sub(last) >= interval; accepted != want {
				t.Fatalf("Allow at %s after last %s = %v, want %v", now.Sub(start), last.Sub(start), accepted, want)
			}
			if accepted {
				last = now
			}
		}
	})
}
