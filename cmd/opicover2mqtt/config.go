package main

import (
	"context"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/racerxdl/go-mcp23017"
	"github.com/sirupsen/logrus"
	"github.com/vvchens/ha-opi-gpio/internal/cover"
	"github.com/vvchens/ha-opi-gpio/internal/cover/driver/relay"
	"gopkg.in/yaml.v2"
)

type cfgPin struct {
	Kind string `yaml:"kind"`

	Pin uint8 `yaml:"pin"`

	// gpiochip device name for kind: gpiochip
	Chip string `yaml:"chip"`

	// device id under drivers.relay.mcp23017 for kind: mcp23017
	Mcp23017 int `yaml:"mcp23017"`
}

type cfgCover struct {
	Name        string `yaml:"name"`
	UniqueID    string `yaml:"unique_id"`
	DeviceClass string `yaml:"device_class"`

	OpenPin  cfgPin `yaml:"open_pin"`
	ClosePin cfgPin `yaml:"close_pin"`
	StopPin  cfgPin `yaml:"stop_pin"`

	InvertRelay      bool `yaml:"invert_relay"`
	IntermediateMode bool `yaml:"intermediate_mode"`

	// seconds
	OpenDuration      int `yaml:"open_duration"`
	CloseDuration     int `yaml:"close_duration"`
	RelayPulse        int `yaml:"relay_pulse"`
	IntermediatePulse int `yaml:"intermediate_pulse"`

	Metadata map[string]interface{} `yaml:"metadata"`
}

type cfgDrivers struct {
	Relay struct {
		Pool     int `yaml:"pool" default:"0"`
		Mcp23017 map[int]struct {
			Bus          uint8 `yaml:"bus" default:"1"`
			DeviceNumber uint8 `yaml:"device_number" default:"0"`
		} `yaml:"mcp23017"`
	} `yaml:"relay"`
}

type cfgMQTT struct {
	ClientID string `yaml:"client_id" default:"opicover2mqtt" env:"CLIENT_ID"`
	Broker   string `yaml:"broker" default:"127.0.0.1:1883" env:"BROKER"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

type cfgHASS struct {
	Enabled     bool   `yaml:"enabled" default:"true" env:"ENABLED"`
	TopicPrefix string `yaml:"topic_prefix" default:"homeassistant" env:"TOPIC_PREFIX"`
}

var Cfg struct {
	LogLevel string `yaml:"log_level" default:"info" env:"LOG_LEVEL"`

	MQTT cfgMQTT `yaml:"mqtt" env:"MQTT"`
	HASS cfgHASS `yaml:"hass" env:"HASS"`

	Covers []cfgCover `yaml:"covers"`

	Drivers cfgDrivers `yaml:"drivers"`
}

var configLoader = aconfig.LoaderFor(&Cfg, aconfig.Config{
	EnvPrefix: "OC2M",
	SkipFlags: true,
})

var relaysPool chan struct{}

func loadConfigFromYamlFile(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&Cfg); err != nil {
		return errors.Wrapf(err, "%s: config decode failed", filename)
	}

	for i := range Cfg.Covers {
		normalizeCover(&Cfg.Covers[i])
	}
	if err := validateCovers(Cfg.Covers); err != nil {
		return err
	}

	if Cfg.Drivers.Relay.Pool > 0 {
		relaysPool = make(chan struct{}, Cfg.Drivers.Relay.Pool)
	}

	return nil
}

func normalizeCover(c *cfgCover) {
	if c.OpenDuration == 0 {
		c.OpenDuration = int(relay.DefaultTravel / time.Second)
	}
	if c.CloseDuration == 0 {
		c.CloseDuration = int(relay.DefaultTravel / time.Second)
	}
	if c.RelayPulse == 0 {
		c.RelayPulse = int(relay.DefaultRelayPulse / time.Second)
	}
	if c.IntermediatePulse == 0 {
		c.IntermediatePulse = int(relay.DefaultIntermediatePulse / time.Second)
	}
	for _, p := range []*cfgPin{&c.OpenPin, &c.ClosePin, &c.StopPin} {
		if p.Kind == "gpiochip" && p.Chip == "" {
			p.Chip = "gpiochip0"
		}
	}
}

func validateCovers(covers []cfgCover) error {
	names := map[string]bool{}
	pins := map[string]bool{}

	for _, c := range covers {
		if c.Name == "" {
			return errors.New("every cover needs a name")
		}
		if names[c.Name] {
			return errors.Errorf("%s: duplicate cover name", c.Name)
		}
		names[c.Name] = true

		if c.OpenDuration <= 0 || c.CloseDuration <= 0 {
			return errors.Errorf("%s: travel durations must be positive", c.Name)
		}
		if c.RelayPulse <= 0 || c.IntermediatePulse <= 0 {
			return errors.Errorf("%s: relay pulse widths must be positive", c.Name)
		}

		for _, p := range []cfgPin{c.OpenPin, c.ClosePin, c.StopPin} {
			if p.Kind == "dumb" {
				continue
			}
			key := pinKey(p)
			if pins[key] {
				return errors.Errorf("%s: pin %d assigned to more than one relay", c.Name, p.Pin)
			}
			pins[key] = true
		}
	}

	return nil
}

func pinKey(p cfgPin) string {
	b, _ := yaml.Marshal(p)
	return string(b)
}

func pahoOptsFromConfig() *paho.ClientOptions {
	return paho.NewClientOptions().
		SetClientID(Cfg.MQTT.ClientID).
		AddBroker(Cfg.MQTT.Broker).
		SetUsername(Cfg.MQTT.Username).
		SetPassword(Cfg.MQTT.Password).
		SetConnectTimeout(time.Second).
		SetPingTimeout(time.Second).
		SetWriteTimeout(time.Second).
		SetAutoReconnect(true)
}

func coversFromConfig(ctx context.Context) ([]cover.Cover, error) {
	covers := make([]cover.Cover, 0, len(Cfg.Covers))
	for _, cfg := range Cfg.Covers {
		c, err := coverFromConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		covers = append(covers, c)
	}
	return covers, nil
}

func coverFromConfig(ctx context.Context, cfg cfgCover) (cover.Cover, error) {
	openR, err := relayFromConfig(ctx, cfg, cfg.OpenPin)
	if err != nil {
		return nil, err
	}
	closeR, err := relayFromConfig(ctx, cfg, cfg.ClosePin)
	if err != nil {
		return nil, err
	}
	stopR, err := relayFromConfig(ctx, cfg, cfg.StopPin)
	if err != nil {
		return nil, err
	}

	// one motor, one energized coil at a time
	relays := relay.NewInterlock(openR, closeR, stopR)

	return relay.NewCover(relay.Config{
		Name:              cfg.Name,
		UniqueID:          cfg.UniqueID,
		DeviceClass:       cfg.DeviceClass,
		OpenDuration:      time.Duration(cfg.OpenDuration) * time.Second,
		CloseDuration:     time.Duration(cfg.CloseDuration) * time.Second,
		RelayPulse:        time.Duration(cfg.RelayPulse) * time.Second,
		IntermediateMode:  cfg.IntermediateMode,
		IntermediatePulse: time.Duration(cfg.IntermediatePulse) * time.Second,
	}, relays[0], relays[1], relays[2])
}

func relayFromConfig(ctx context.Context, cfg cfgCover, pin cfgPin) (relay.Relay, error) {
	if pin.Kind == "dumb" {
		return wrapRelayWithPoolProxy(&relay.Dumb{Name: cfg.Name}), nil
	}

	p, err := setPinFromConfig(ctx, cfg, pin)
	if err != nil {
		return nil, err
	}

	return wrapRelayWithPoolProxy(&relay.Wired{Pin: p, Invert: cfg.InvertRelay}), nil
}

func wrapRelayWithPoolProxy(r relay.Relay) relay.Relay {
	if relaysPool == nil {
		return r
	}

	return relay.NewPoolProxy(r, relaysPool)
}

func setPinFromConfig(ctx context.Context, cfg cfgCover, pin cfgPin) (relay.SetPin, error) {
	switch pin.Kind {
	case "gpiochip":
		idle := 0
		if cfg.InvertRelay {
			idle = 1
		}
		return relay.NewGpiochipPin(pin.Chip, int(pin.Pin), idle)
	case "mcp23017":
		device, err := mcp23017DeviceFromConfigByID(ctx, pin.Mcp23017)
		if err != nil {
			return nil, err
		}
		return relay.NewMcp23017Pin(device, pin.Pin)
	}

	return nil, errors.Errorf("%s is not a supported pin kind", pin.Kind)
}

var mcpDevices = map[int]*mcp23017.Device{}

func mcp23017DeviceFromConfigByID(ctx context.Context, id int) (*mcp23017.Device, error) {
	if Cfg.Drivers.Relay.Mcp23017 == nil {
		return nil, errors.New("drivers.relay.mcp23017 not defined")
	}

	cfg, found := Cfg.Drivers.Relay.Mcp23017[id]
	if !found {
		return nil, errors.Errorf("%d is not a defined drivers.relay.mcp23017 device", id)
	}

	dev := mcpDevices[id]
	if dev == nil {
		var err error
		dev, err = mcp23017.Open(cfg.Bus, cfg.DeviceNumber)
		if err != nil {
			return nil, err
		}
		go func() {
			<-ctx.Done()
			if err := dev.Close(); err != nil {
				logrus.Errorf("mcp23017: close failed %s", err)
				return
			}

			logrus.Infof("mcp23017: close")
		}()
		if err := dev.Reset(); err != nil {
			return nil, err
		}

		mcpDevices[id] = dev
	}

	return dev, nil
}
