// Package main provides an HTTP server exposing a LayerDB instance: object
// payloads for the HTTP handler, repository listings and script builds.
package main

import (
	"encoding/json"
	"time"
)

// Response wraps every JSON answer.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Type    string          `json:"type,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

type RepositoryInfo struct {
	Repository string `json:"repository"`
	Images     int    `json:"images"`
	Head       string `json:"head,omitempty"`
}

type ImageInfo struct {
	Hash      string    `json:"hash"`
	ParentID  string    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Comment   string    `json:"comment,omitempty"`
	Tables    []string  `json:"tables"`
	Tags      []string  `json:"tags,omitempty"`
}

// BuildRequest runs Script with Params into Output.
type BuildRequest struct {
	Script string            `json:"script"`
	Params map[string]string `json:"params,omitempty"`
	Output string            `json:"output"`
}

type StepInfo struct {
	Command string  `json:"command"`
	Image   string  `json:"image,omitempty"`
	Cached  bool    `json:"cached"`
	TimeMs  float64 `json:"time_ms"`
	Error   string  `json:"error,omitempty"`
}

type BuildResponse struct {
	RunID   string            `json:"run_id"`
	Steps   []StepInfo        `json:"steps"`
	Outputs map[string]string `json:"outputs"`
	TimeMs  float64           `json:"time_ms"`
}

// AuthResponse describes the identity a request was authenticated as.
type AuthResponse struct {
	Authenticated bool   `json:"authenticated"`
	Identity      string `json:"identity,omitempty"`
	ExpiresIn     int    `json:"expires_in,omitempty"`
}

// EncodeResponse serializes a Response to JSON with a newline.
func EncodeResponse(resp Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeResponse parses a JSON response from a byte slice.
func DecodeResponse(data []byte) (Response, error) {
	var resp Response
	err := json.Unmarshal(data, &resp)
	return resp, err
}

func success(typ string, result any) Response {
	data, err := json.Marshal(result)
	if err != nil {
		return Response{Success: false, Type: typ, Error: err.Error()}
	}
	return Response{Success: true, Type: typ, Result: data}
}

func failure(typ string, err error) Response {
	return Response{Success: false, Type: typ, Error: err.Error()}
}
