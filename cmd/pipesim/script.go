package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/bjaus/pipedispatch"
)

// script is the scenario fed to the simulated pipe.
//
//	[[message]]
//	type = 504
//	payload = '{"lobby": {"kind": "ranked"}}'
//
//	[[call]]
//	type = 1101
//	payload_hex = "e001000000000000"
//	register = true
type script struct {
	Messages []scriptMessage `toml:"message"`
	Calls    []scriptCall    `toml:"call"`
}

type scriptMessage struct {
	Type       int32  `toml:"type"`
	Payload    string `toml:"payload"`
	PayloadHex string `toml:"payload_hex"`
	Repeat     int    `toml:"repeat"`
}

type scriptCall struct {
	Type       int32  `toml:"type"`
	Payload    string `toml:"payload"`
	PayloadHex string `toml:"payload_hex"`
	Failed     bool   `toml:"failed"`
	Register   bool   `toml:"register"`
}

func loadScript(path string) (*script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script %s: %w", path, err)
	}
	s, err := parseScript(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func parseScript(data []byte) (*script, error) {
	var s script
	if err := toml.Unmarshal(data, &s); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("parse error at %d:%d: %w", row, col, err)
		}
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *script) validate() error {
	if len(s.Messages) == 0 && len(s.Calls) == 0 {
		return errors.New("script is empty")
	}
	for i, m := range s.Messages {
		if m.Type == pipedispatch.CallCompletedType {
			return fmt.Errorf("message %d: type %d is reserved for call completions", i, m.Type)
		}
		if m.Repeat < 0 {
			return fmt.Errorf("message %d: negative repeat", i)
		}
		if _, err := decodePayload(m.Payload, m.PayloadHex); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	for i, c := range s.Calls {
		if c.Type == pipedispatch.CallCompletedType {
			return fmt.Errorf("call %d: type %d is reserved for call completions", i, c.Type)
		}
		if _, err := decodePayload(c.Payload, c.PayloadHex); err != nil {
			return fmt.Errorf("call %d: %w", i, err)
		}
	}
	return nil
}

func (m scriptMessage) count() int { return max(m.Repeat, 1) }

func decodePayload(text, hexText string) ([]byte, error) {
	if text != "" && hexText != "" {
		return nil, errors.New("payload and payload_hex are mutually exclusive")
	}
	if hexText == "" {
		return []byte(text), nil
	}
	b, err := hex.DecodeString(hexText)
	if err != nil {
		return nil, fmt.Errorf("payload_hex: %w", err)
	}
	return b, nil
}
