// Command scale-bridge reads weigh-scale output from a serial port and
// publishes each reading to the dashboard over MQTT.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"

	"github.com/fidde/herd_weight_dashboard/internal/mqttclient"
	"github.com/fidde/herd_weight_dashboard/internal/records"
	"github.com/fidde/herd_weight_dashboard/pkg/models"
)

type publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

func main() {
	port := flag.String("port", "/dev/ttyUSB0", "serial port of the weigh scale")
	baud := flag.Int("baud", 9600, "serial baud rate")
	broker := flag.String("broker", "tcp://localhost:1883", "mqtt broker")
	device := flag.String("device", "DEV-001", "device id of this scale")
	unit := flag.String("unit", "Unit-A", "source unit of this scale")
	sim := flag.Bool("sim", false, "simulate readings instead of reading serial")
	interval := flag.Duration("interval", time.Second, "delay between simulated readings")
	flag.Parse()

	mqttc, err := mqttclient.New(mqttclient.Options{
		BrokerURL: *broker,
		ClientID:  fmt.Sprintf("scale-bridge-%d", time.Now().UnixNano()),
	})
	if err != nil {
		log.Fatalf("mqtt connect: %v", err)
	}
	defer mqttc.Close()

	topic := topicFor(*device)

	if *sim {
		rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
		for {
			rec := records.DemoRecord(rng, time.Now())
			rec.Timestamp = time.Now().UTC().Format(time.RFC3339)
			rec.DeviceID = *device
			rec.SourceUnit = *unit
			if err := publish(mqttc, topic, rec); err != nil {
				log.Printf("publish err: %v", err)
			}
			time.Sleep(*interval)
		}
	}

	s, err := serial.OpenPort(&serial.Config{Name: *port, Baud: *baud})
	if err != nil {
		log.Fatalf("open serial: %v", err)
	}
	defer s.Close()

	if err := bridge(s, mqttc, topic, *device, *unit, time.Now); err != nil {
		log.Printf("serial read err: %v", err)
	}
}

// bridge publishes one reading per valid "animalId,weight" line of r.
// Malformed lines are logged and skipped.
func bridge(r io.Reader, pub publisher, topic, device, unit string, now func() time.Time) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		animalID, weight, err := parseLine(line)
		if err != nil {
			log.Printf("skipping line %q: %v", line, err)
			continue
		}
		rec := models.TelemetryRecord{
			Timestamp:    now().UTC().Format(time.RFC3339),
			DeviceID:     device,
			SourceUnit:   unit,
			AnimalID:     animalID,
			AnimalWeight: weight,
		}
		if err := publish(pub, topic, rec); err != nil {
			log.Printf("publish err: %v", err)
		}
	}
	return scanner.Err()
}

func parseLine(line string) (string, float64, error) {
	animalID, rawWeight, ok := strings.Cut(line, ",")
	if !ok {
		return "", 0, errors.New("expected animalId,weight")
	}
	animalID = strings.TrimSpace(animalID)
	if animalID == "" {
		return "", 0, errors.New("missing animal id")
	}
	weight, err := strconv.ParseFloat(strings.TrimSpace(rawWeight), 64)
	if err != nil {
		return "", 0, fmt.Errorf("bad weight: %w", err)
	}
	return animalID, weight, nil
}

func publish(pub publisher, topic string, rec models.TelemetryRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := pub.Publish(topic, b, 1, false); err != nil {
		return err
	}
	log.Printf("published %s", b)
	return nil
}

func topicFor(device string) string {
	return "scales/" + device + "/readings"
}
