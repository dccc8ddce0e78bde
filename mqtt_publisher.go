package cfo

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"cfo/Estimator"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// ErrNotConnected 外部连接 (MQTT 或串口) 没有建立
var ErrNotConnected = errors.New("not connected")

// EstimateMessage 发布到 MQTT 的 JSON
type EstimateMessage struct {
	RunID      string    `json:"run_id"`
	Block      int       `json:"block"`
	Re         float64   `json:"re"`
	Im         float64   `json:"im"`
	OffsetHz   float64   `json:"offset_hz"`
	PeakEnergy float64   `json:"peak_energy"`
	PeakIndex  int       `json:"peak_index"`
	Timestamp  time.Time `json:"timestamp"`
}

func newEstimateMessage(runID string, block int, res Estimator.Result, offsetHz float64, ts time.Time) EstimateMessage {
	return EstimateMessage{
		RunID:      runID,
		Block:      block,
		Re:         real(res.Estimate),
		Im:         imag(res.Estimate),
		OffsetHz:   offsetHz,
		PeakEnergy: res.PeakEnergy,
		PeakIndex:  res.PeakIndex,
		Timestamp:  ts.UTC(),
	}
}

// MQTTPublisher 把每一块的估计发布到 MQTT
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
	qos    byte
	runID  string
}

// NewMQTTPublisher 连接 broker，未启用时返回 nil
func NewMQTTPublisher(cfg *Config, runID string) (*MQTTPublisher, error) {
	if !cfg.MQTT.Enabled {
		return nil, nil
	}

	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		clientID = "cfo_" + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTT.Broker)
	opts.SetClientID(clientID)
	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
	}
	if cfg.MQTT.Password != "" {
		opts.SetPassword(cfg.MQTT.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Println("[MQTT] Connected to broker")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("[MQTT] Connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	// 开启重连后 Connect 的 token 要等到真正连上才完成，这里只等一段时间
	// 超时后在后台继续重连，期间 Publish 返回 ErrNotConnected
	token := client.Connect()
	if !token.WaitTimeout(cfg.MQTT.ConnectTimeout) {
		log.Printf("[MQTT] Warning: %s not reachable after %v, retrying in background", cfg.MQTT.Broker, cfg.MQTT.ConnectTimeout)
	} else if token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	} else {
		log.Printf("[MQTT] Connected to %s as %s", cfg.MQTT.Broker, clientID)
	}

	return &MQTTPublisher{
		client: client,
		topic:  cfg.MQTT.Topic,
		qos:    cfg.MQTT.QoS,
		runID:  runID,
	}, nil
}

// Publish 异步发布，失败只记录日志
func (mp *MQTTPublisher) Publish(block int, res Estimator.Result, offsetHz float64) error {
	if mp == nil || !mp.client.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(newEstimateMessage(mp.runID, block, res, offsetHz, time.Now()))
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	token := mp.client.Publish(mp.topic, mp.qos, false, data)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("[MQTT] Failed to publish block %d to %s: %v", block, mp.topic, token.Error())
		}
	}()
	return nil
}

// Disconnect 断开连接，仍在后台重连时一并停止
func (mp *MQTTPublisher) Disconnect() {
	if mp == nil || mp.client == nil {
		return
	}
	connected := mp.client.IsConnected()
	mp.client.Disconnect(250)
	if connected {
		log.Println("[MQTT] Disconnected from broker")
	}
}
