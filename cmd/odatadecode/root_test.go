package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

const testModel = `
namespace: Demo
entityTypes:
  - name: Thing
    key: [Id]
    properties:
      - name: Id
        type: Edm.Int32
        nullable: false
      - name: Name
        type: Edm.String
entitySets:
  - name: Things
    entityType: Demo.Thing
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.Execute()
	return out.String(), err
}

func TestDecode_PayloadFile(t *testing.T) {
	dir := t.TempDir()
	model := writeFile(t, dir, "model.yaml", testModel)
	payload := writeFile(t, dir, "payload.json", `{"Name": "lamp", "Id": 5}`)

	out, err := runCmd(t, "", "--model", model, "--path", "Things", payload)
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("Expected JSON output, got %q: %v", out, err)
	}
	if decoded["Name"] != "lamp" {
		t.Errorf("Expected Name lamp, got %v", decoded["Name"])
	}
	if decoded["Id"] != float64(5) {
		t.Errorf("Expected Id 5, got %v", decoded["Id"])
	}
}

func TestDecode_ResourceSet(t *testing.T) {
	dir := t.TempDir()
	model := writeFile(t, dir, "model.yaml", testModel)
	payload := `{"value": [{"Id": 1, "Name": "lamp"}, {"Id": 2, "Name": "desk"}]}`

	for _, args := range [][]string{
		{"--model", model, "--path", "Things"},
		{"--model", model, "--path", "Things", "--collection"},
	} {
		out, err := runCmd(t, payload, args...)
		if err != nil {
			t.Fatalf("Command %v failed: %v", args, err)
		}
		var decoded []map[string]interface{}
		if err := json.Unmarshal([]byte(out), &decoded); err != nil {
			t.Fatalf("Expected a JSON array, got %q: %v", out, err)
		}
		if len(decoded) != 2 || decoded[1]["Name"] != "desk" {
			t.Errorf("Expected two things ending with desk, got %v", decoded)
		}
	}

	if _, err := runCmd(t, `{"Id": 1}`, "--model", model, "--path", "Things", "--collection"); err == nil {
		t.Error("Expected a single resource to be rejected with --collection")
	}
}

func TestDecode_DeltaFromStdinAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ODATADECODE_MODEL", writeFile(t, dir, "model.yaml", testModel))
	t.Setenv("ODATADECODE_DELTA", "true")

	out, err := runCmd(t, `{"Name": "renamed"}`, "--path", "Things(1)")
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("Expected JSON output, got %q: %v", out, err)
	}
	if len(decoded) != 1 || decoded["Name"] != "renamed" {
		t.Errorf("Expected only the changed Name, got %v", decoded)
	}
}

func TestDecode_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	model := writeFile(t, dir, "model.yaml", testModel)
	config := writeFile(t, dir, "odatadecode.yaml", "model: "+model+"\npath: Things\n")

	out, err := runCmd(t, `{"Id": 2}`, "--config", config)
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("Expected JSON output, got %q: %v", out, err)
	}
	if decoded["Id"] != float64(2) {
		t.Errorf("Expected Id 2, got %v", decoded["Id"])
	}
}

func TestDecode_Errors(t *testing.T) {
	dir := t.TempDir()
	model := writeFile(t, dir, "model.yaml", testModel)

	tests := []struct {
		name  string
		stdin string
		args  []string
		want  string
	}{
		{"missing model", `{}`, []string{"--path", "Things"}, "model is required"},
		{"missing path", `{}`, []string{"--model", model}, "path is required"},
		{"unknown property", `{"Id": 1, "Colour": "red"}`, []string{"--model", model, "--path", "Things"}, "unknown property"},
		{"missing payload file", ``, []string{"--model", model, "--path", "Things", filepath.Join(dir, "none.json")}, "failed to open payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCmd(t, tt.stdin, tt.args...)
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
