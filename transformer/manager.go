// Package transformer runs optional per-channel JavaScript rewrites on
// payloads travelling from MQTT to the serial device.
package transformer

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/eddielth/serial-bridge/config"
	"github.com/eddielth/serial-bridge/logger"
)

// Manager holds one transformer per channel name.
type Manager struct {
	transformers map[string]*Transformer
	mutex        sync.RWMutex
	log          *logger.Component
}

// Transformer is a compiled script exposing transform(payload).
// A goja runtime is single-threaded, so calls are serialized.
type Transformer struct {
	vm         *goja.Runtime
	transform  goja.Callable
	scriptPath string
	mu         sync.Mutex
}

// NewManager compiles every configured transformer.
func NewManager(configs map[string]config.Transformer) (*Manager, error) {
	m := &Manager{
		transformers: make(map[string]*Transformer),
		log:          logger.Named("transformer"),
	}

	for name, cfg := range configs {
		t, err := load(cfg)
		if err != nil {
			return nil, fmt.Errorf("transformer %s: %w", name, err)
		}
		m.transformers[strings.ToLower(name)] = t
		m.log.Info("loaded transformer for %s", name)
	}

	return m, nil
}

func load(cfg config.Transformer) (*Transformer, error) {
	var scriptCode string
	switch {
	case cfg.ScriptCode != "":
		scriptCode = cfg.ScriptCode
	case cfg.ScriptPath != "":
		scriptBytes, err := os.ReadFile(cfg.ScriptPath)
		if err != nil {
			return nil, fmt.Errorf("cannot load script file %s: %w", cfg.ScriptPath, err)
		}
		scriptCode = string(scriptBytes)
	default:
		return nil, fmt.Errorf("neither script_code nor script_path given")
	}

	return newTransformer(scriptCode, cfg.ScriptPath)
}

func newTransformer(scriptCode, scriptPath string) (*Transformer, error) {
	vm := goja.New()
	jsLog := logger.Named("js")

	_ = vm.Set("log", func(msg string) {
		jsLog.Info("%s", msg)
	})

	_ = vm.Set("parseJSON", func(jsonStr string) interface{} {
		var data interface{}
		if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
			jsLog.Warn("parseJSON failed: %v", err)
			return nil
		}
		return data
	})

	_ = vm.Set("formatDate", func(timestamp int64, format string) string {
		if format == "" {
			format = "2006-01-02 15:04:05"
		}
		return time.Unix(timestamp, 0).Format(format)
	})

	_ = vm.Set("convertTemperature", convertTemperature)

	_ = vm.Set("validateRange", func(value float64, min float64, max float64) bool {
		return value >= min && value <= max
	})

	if _, err := vm.RunString(scriptCode); err != nil {
		return nil, fmt.Errorf("script failed: %w", err)
	}

	transformValue := vm.Get("transform")
	if transformValue == nil {
		return nil, fmt.Errorf("script does not define 'transform'")
	}
	transform, ok := goja.AssertFunction(transformValue)
	if !ok {
		return nil, fmt.Errorf("'transform' is not a function")
	}

	return &Transformer{
		vm:         vm,
		transform:  transform,
		scriptPath: scriptPath,
	}, nil
}

func convertTemperature(value float64, fromUnit string, toUnit string) float64 {
	var celsius float64
	switch strings.ToUpper(fromUnit) {
	case "C":
		celsius = value
	case "F":
		celsius = (value - 32) * 5 / 9
	case "K":
		celsius = value - 273.15
	default:
		return value
	}

	switch strings.ToUpper(toUnit) {
	case "F":
		return celsius*9/5 + 32
	case "K":
		return celsius + 273.15
	default:
		return celsius
	}
}

// Has reports whether a transformer is configured for name.
func (m *Manager) Has(name string) bool {
	if m == nil {
		return false
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.transformers[strings.ToLower(name)]
	return ok
}

// Names returns the configured channel names, sorted.
func (m *Manager) Names() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.transformers))
	for name := range m.transformers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Transform passes payload through the transformer for name. Without a
// transformer the payload is returned unchanged. The script receives the
// payload as a string and must return an object.
func (m *Manager) Transform(name string, payload []byte) ([]byte, error) {
	if m == nil {
		return payload, nil
	}

	m.mutex.RLock()
	t, exists := m.transformers[strings.ToLower(name)]
	m.mutex.RUnlock()
	if !exists {
		return payload, nil
	}

	t.mu.Lock()
	result, err := t.transform(goja.Undefined(), t.vm.ToValue(string(payload)))
	var exported interface{}
	if err == nil {
		exported = result.Export()
	}
	t.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("transform %s failed: %w", name, err)
	}

	if _, ok := exported.(map[string]interface{}); !ok {
		return nil, fmt.Errorf("transform %s returned %T, want object", name, exported)
	}

	out, err := json.Marshal(exported)
	if err != nil {
		return nil, fmt.Errorf("serialize transform %s result: %w", name, err)
	}
	return out, nil
}

// Reload recompiles the transformer for name.
func (m *Manager) Reload(name string, cfg config.Transformer) error {
	t, err := load(cfg)
	if err != nil {
		return err
	}

	m.mutex.Lock()
	m.transformers[strings.ToLower(name)] = t
	m.mutex.Unlock()

	m.log.Info("reloaded transformer for %s", name)
	return nil
}

// Sync reloads every configured transformer and drops the ones no longer
// configured. A transformer that fails to compile keeps its previous version.
func (m *Manager) Sync(configs map[string]config.Transformer) error {
	var failed []string
	wanted := make(map[string]bool, len(configs))
	for name, cfg := range configs {
		wanted[strings.ToLower(name)] = true
		if err := m.Reload(name, cfg); err != nil {
			m.log.Error("failed to reload transformer %s: %v", name, err)
			failed = append(failed, name)
		}
	}

	m.mutex.Lock()
	for name := range m.transformers {
		if !wanted[name] {
			delete(m.transformers, name)
			m.log.Info("removed transformer for %s", name)
		}
	}
	m.mutex.Unlock()

	if len(failed) > 0 {
		sort.Strings(failed)
		return fmt.Errorf("transformers failed to reload: %s", strings.Join(failed, ", "))
	}
	return nil
}
