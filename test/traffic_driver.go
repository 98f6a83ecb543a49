package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/pflag"
)

// 风速计数据
type AnemometerData struct {
	Speed     float64 `json:"speed"`
	Direction int     `json:"direction"`
}

// 颗粒物数据
type SPS30Data struct {
	PM1  float64 `json:"pm1"`
	PM25 float64 `json:"pm25"`
	PM10 float64 `json:"pm10"`
}

// 姿态数据
type IMUData struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type StatusData struct {
	Uptime int64  `json:"uptime"`
	State  string `json:"state"`
}

// sensorConfig describes one simulated sensor topic.
type sensorConfig struct {
	Topic    string
	Interval time.Duration
	Generate func(start time.Time) interface{}
}

func main() {
	broker := pflag.String("broker", "tcp://localhost:1883", "MQTT broker address")
	username := pflag.String("username", "", "MQTT username")
	password := pflag.String("password", "", "MQTT password")
	mode := pflag.String("mode", "continuous", "Run mode: single, burst, continuous")
	pflag.Parse()

	opts := paho.NewClientOptions()
	opts.AddBroker(*broker)
	opts.SetClientID(fmt.Sprintf("bridge-traffic-%d", time.Now().Unix()))
	if *username != "" {
		opts.SetUsername(*username)
		opts.SetPassword(*password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		fmt.Printf("connection lost: %v\n", err)
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		fmt.Printf("failed to connect to %s: %v\n", *broker, token.Error())
		os.Exit(1)
	}
	defer client.Disconnect(250)
	fmt.Printf("connected to %s\n", *broker)

	// Print whatever the bridge publishes from the device.
	token := client.Subscribe("command", 0, func(_ paho.Client, msg paho.Message) {
		fmt.Printf("<- command: %s\n", msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		fmt.Printf("failed to subscribe to command: %v\n", token.Error())
		os.Exit(1)
	}

	sensors := defaultSensors()

	switch *mode {
	case "single":
		start := time.Now()
		for _, s := range sensors {
			publish(client, s.Topic, s.Generate(start))
		}
	case "burst":
		// Ten anemometer samples in one second; the bridge filter decides how many pass.
		start := time.Now()
		for i := 0; i < 10; i++ {
			publish(client, "anemometer", sensors[0].Generate(start))
			time.Sleep(100 * time.Millisecond)
		}
	case "continuous":
		runContinuous(client, sensors)
	default:
		fmt.Println("unknown mode, use single, burst or continuous")
		os.Exit(1)
	}
}

func defaultSensors() []sensorConfig {
	return []sensorConfig{
		{Topic: "anemometer", Interval: time.Second, Generate: func(time.Time) interface{} {
			return AnemometerData{Speed: round1(rand.Float64() * 20), Direction: rand.Intn(360)}
		}},
		{Topic: "sps30", Interval: 5 * time.Second, Generate: func(time.Time) interface{} {
			pm1 := 2 + rand.Float64()*10
			return SPS30Data{PM1: round1(pm1), PM25: round1(pm1 * 1.4), PM10: round1(pm1 * 1.9)}
		}},
		{Topic: "imu", Interval: 2 * time.Second, Generate: func(time.Time) interface{} {
			return IMUData{X: round1(rand.NormFloat64()), Y: round1(rand.NormFloat64()), Z: round1(9.8 + rand.NormFloat64()*0.1)}
		}},
		{Topic: "status", Interval: 10 * time.Second, Generate: func(start time.Time) interface{} {
			return StatusData{Uptime: int64(time.Since(start).Seconds()), State: "ok"}
		}},
	}
}

func runContinuous(client paho.Client, sensors []sensorConfig) {
	start := time.Now()
	for _, s := range sensors {
		go func(s sensorConfig) {
			for {
				publish(client, s.Topic, s.Generate(start))
				time.Sleep(s.Interval)
			}
		}(s)
		fmt.Printf("%s every %v\n", s.Topic, s.Interval)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	fmt.Println("disconnecting...")
}

func publish(client paho.Client, topic string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		fmt.Printf("encode %s failed: %v\n", topic, err)
		return
	}

	token := client.Publish(topic, 0, false, payload)
	token.Wait()
	if token.Error() != nil {
		fmt.Printf("publish %s failed: %v\n", topic, token.Error())
		return
	}
	fmt.Printf("-> %s: %s\n", topic, payload)
}

func round1(v float64) float64 {
	return float64(int(v*10)) / 10
}
