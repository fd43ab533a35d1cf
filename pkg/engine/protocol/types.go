// Package protocol defines the JSON-lines protocol spoken between the
// installer and an external deployment engine process.
//
// The installer writes one CMD message to the engine's stdin and closes it.
// The engine answers on stdout with any number of EVENT messages followed by
// exactly one DONE or ERROR message. Every message is a single line.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openfroyo/installer/pkg/outcome"
)

// MessageType represents the type of message in the protocol.
type MessageType string

const (
	// MessageTypeReady may be sent by the engine before it reads the command.
	MessageTypeReady MessageType = "READY"
	// MessageTypeCommand carries the operation to perform
	MessageTypeCommand MessageType = "CMD"
	// MessageTypeEvent carries a progress line from the engine
	MessageTypeEvent MessageType = "EVENT"
	// MessageTypeDone indicates successful completion
	MessageTypeDone MessageType = "DONE"
	// MessageTypeError indicates the operation failed
	MessageTypeError MessageType = "ERROR"
)

// CommandType represents the engine operation.
type CommandType string

const (
	CommandTypeDownload         CommandType = "download"
	CommandTypeDeploy           CommandType = "deploy"
	CommandTypeUndeploy         CommandType = "undeploy"
	CommandTypeListProducts     CommandType = "products.list"
	CommandTypeListVersions     CommandType = "products.versions"
	CommandTypeDeployedProducts CommandType = "products.deployed"
)

// Message is the base message structure for all protocol messages.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ReadyMessage announces the engine.
type ReadyMessage struct {
	Version    string `json:"version"`
	APIVersion int    `json:"api_version"`
	Platform   string `json:"platform,omitempty"`
}

// CommandMessage contains the operation to execute.
type CommandMessage struct {
	ID       string            `json:"id"`
	Type     CommandType       `json:"type"`
	Params   json.RawMessage   `json:"params,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ProductParams identifies a product and optionally a version.
type ProductParams struct {
	Product string `json:"product,omitempty"`
	Version string `json:"version,omitempty"`
}

// EventMessage contains one line of engine output.
type EventMessage struct {
	CommandID string        `json:"command_id"`
	Level     string        `json:"level"` // info, warn, error, debug
	Message   string        `json:"message"`
	Progress  *ProgressInfo `json:"progress,omitempty"`
}

// ProgressInfo contains progress tracking information.
type ProgressInfo struct {
	Current int64  `json:"current"`
	Total   int64  `json:"total"`
	Unit    string `json:"unit"`
}

// DoneMessage indicates successful completion.
type DoneMessage struct {
	CommandID string          `json:"command_id"`
	Result    json.RawMessage `json:"result,omitempty"`
	Duration  float64         `json:"duration"` // seconds
}

// ErrorMessage indicates the operation failed.
type ErrorMessage struct {
	CommandID string            `json:"command_id,omitempty"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *ErrorMessage) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// DeployResult is the DONE payload of a deploy command.
type DeployResult struct {
	Outcome outcome.Outcome `json:"outcome"`
}

// ProductsResult is the DONE payload of products.list.
type ProductsResult struct {
	Products []string `json:"products"`
}

// VersionsResult is the DONE payload of products.versions. The value tells
// whether the version is already downloaded.
type VersionsResult struct {
	Versions map[string]bool `json:"versions"`
}

// DeployedResult is the DONE payload of products.deployed.
type DeployedResult struct {
	Deployed map[string]string `json:"deployed"`
}

// Validation methods

// Validate checks if the message type is valid.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeReady, MessageTypeCommand, MessageTypeEvent,
		MessageTypeDone, MessageTypeError:
		return nil
	default:
		return fmt.Errorf("invalid message type: %s", mt)
	}
}

// Validate checks if the command type is valid.
func (ct CommandType) Validate() error {
	switch ct {
	case CommandTypeDownload, CommandTypeDeploy, CommandTypeUndeploy,
		CommandTypeListProducts, CommandTypeListVersions, CommandTypeDeployedProducts:
		return nil
	default:
		return fmt.Errorf("invalid command type: %s", ct)
	}
}

// Validate checks if the command message is valid.
func (cmd *CommandMessage) Validate() error {
	if cmd.ID == "" {
		return fmt.Errorf("command ID is required")
	}
	return cmd.Type.Validate()
}
