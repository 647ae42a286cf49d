package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/caffeineduck/evalbox/executor"
)

// runResponse is the wire shape of a Result, shared by --format json|yaml
// and the HTTP server.
type runResponse struct {
	ID         string          `json:"id" yaml:"id"`
	Language   string          `json:"language" yaml:"language"`
	Outcome    string          `json:"outcome" yaml:"outcome"`
	Value      *executor.Value `json:"value,omitempty" yaml:"value,omitempty"`
	Output     string          `json:"output" yaml:"output"`
	Truncated  bool            `json:"truncated,omitempty" yaml:"truncated,omitempty"`
	State      string          `json:"state" yaml:"state"`
	DurationMs int64           `json:"duration_ms" yaml:"duration_ms"`
	Error      *errorBody      `json:"error,omitempty" yaml:"error,omitempty"`
}

type errorBody struct {
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
	Type     string `json:"type,omitempty" yaml:"type,omitempty"`
	Resource string `json:"resource,omitempty" yaml:"resource,omitempty"`
	Limit    string `json:"limit,omitempty" yaml:"limit,omitempty"`
	Message  string `json:"message" yaml:"message"`
}

func newRunResponse(lang string, res executor.Result) runResponse {
	resp := runResponse{
		ID:         res.ID,
		Language:   lang,
		Outcome:    res.Outcome().String(),
		Output:     res.Output,
		Truncated:  res.Truncated,
		State:      res.State.String(),
		DurationMs: res.Duration.Milliseconds(),
	}
	if res.Error == nil {
		v := res.Value
		resp.Value = &v
		return resp
	}

	body := &errorBody{Message: res.Error.Error()}
	var (
		ge *executor.GuestError
		re *executor.ResourceExceededError
	)
	switch {
	case errors.As(res.Error, &ge):
		body.Category = ge.Category.String()
		body.Type = ge.Type
		body.Message = ge.Message
	case errors.As(res.Error, &re):
		body.Resource = re.Kind.String()
		body.Limit = fmt.Sprint(re.Limit())
	}
	resp.Error = body
	return resp
}

func writeResult(w io.Writer, format, lang string, res executor.Result) error {
	switch format {
	case "", "text":
		if _, err := io.WriteString(w, res.Output); err != nil {
			return err
		}
		if res.Error == nil {
			_, err := fmt.Fprintln(w, res.Value)
			return err
		}
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(newRunResponse(lang, res))
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(newRunResponse(lang, res))
	default:
		return checkFormat(format)
	}
}

func checkFormat(format string) error {
	switch format {
	case "", "text", "json", "yaml":
		return nil
	}
	return fmt.Errorf("unknown format %q: use text, json or yaml", format)
}

// runError carries a failed Result's outcome up to the exit code.
type runError struct {
	outcome executor.Outcome
	err     error
}

func (e *runError) Error() string { return e.err.Error() }
func (e *runError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var re *runError
	if !errors.As(err, &re) {
		return 1
	}
	switch re.outcome {
	case executor.OutcomeResourceExceeded:
		return 2
	case executor.OutcomeLoadError:
		return 3
	case executor.OutcomeHostFault:
		return 4
	default:
		return 1
	}
}
