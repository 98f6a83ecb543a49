// Package bridge moves newline-delimited JSON between a serial device and
// an MQTT broker. Sensor messages from the broker are tagged and written to
// the device; commands read from the device are published to the broker.
package bridge

// Channel is the logical sensor channel a message arrived on.
type Channel int

const (
	ChannelUnknown Channel = iota
	ChannelAnemometer
	ChannelSPS30
	ChannelIMU
	ChannelStatus
)

var channelTopics = map[Channel]string{
	ChannelAnemometer: "anemometer",
	ChannelSPS30:      "sps30",
	ChannelIMU:        "imu",
	ChannelStatus:     "status",
}

var channelTags = map[Channel]string{
	ChannelAnemometer: "anm",
	ChannelSPS30:      "sps",
	ChannelIMU:        "imu",
	ChannelStatus:     "status",
}

// ParseChannel maps an MQTT topic to its channel. Matching is exact.
func ParseChannel(topic string) Channel {
	for ch, t := range channelTopics {
		if t == topic {
			return ch
		}
	}
	return ChannelUnknown
}

// channelForTag is the inverse of Tag.
func channelForTag(tag string) Channel {
	for ch, t := range channelTags {
		if t == tag {
			return ch
		}
	}
	return ChannelUnknown
}

// Topic is the MQTT topic the channel is subscribed on.
func (c Channel) Topic() string {
	return channelTopics[c]
}

// Tag is the short label written into the "topic" field.
func (c Channel) Tag() string {
	return channelTags[c]
}

func (c Channel) String() string {
	if t, ok := channelTopics[c]; ok {
		return t
	}
	return "unknown"
}

// SubscribeTopics lists the sensor topics in a stable order.
func SubscribeTopics() []string {
	return []string{
		ChannelAnemometer.Topic(),
		ChannelSPS30.Topic(),
		ChannelIMU.Topic(),
		ChannelStatus.Topic(),
	}
}
