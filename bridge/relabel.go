package bridge

import (
	"github.com/tidwall/sjson"

	"github.com/eddielth/serial-bridge/validator"
)

// TopicField is the key that carries the channel tag on the serial side.
const TopicField = "topic"

// Relabel returns payload in compact form with its "topic" field set to the
// channel tag. An existing field keeps its position; otherwise it is
// appended. payload must be a JSON object.
func Relabel(payload []byte, ch Channel) ([]byte, error) {
	compact, err := validator.Compact(payload)
	if err != nil {
		return nil, err
	}
	if err := validator.JSONObject(compact); err != nil {
		return nil, err
	}
	return sjson.SetBytes(compact, TopicField, ch.Tag())
}
