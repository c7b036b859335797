package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
	"github.com/KshitijBhardwaj18/automation1/pkg/telemetry"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestReadRequestFile(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "acme.yaml",
			content: `customer_id: acme
environment: staging
role_arn: arn:aws:iam::123456789012:role/byoc
external_id: acme-external-id
aws_region: eu-west-1
eks_mode: managed
node_group:
  instance_types: [m5.large]
  desired_size: 3
  min_size: 1
  max_size: 6
  disk_size: 100
  capacity_type: SPOT
`,
		},
		{
			name: "json",
			file: "acme.json",
			content: `{"customer_id":"acme","environment":"staging","role_arn":"arn:aws:iam::123456789012:role/byoc",
"external_id":"acme-external-id","aws_region":"eu-west-1","eks_mode":"managed",
"node_group":{"instance_types":["m5.large"],"desired_size":3,"min_size":1,"max_size":6,"disk_size":100,"capacity_type":"SPOT"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := readRequestFile(writeFile(t, tt.file, tt.content))
			if err != nil {
				t.Fatalf("readRequestFile() error = %v", err)
			}
			if req.CustomerID != "acme" || req.Environment != "staging" || req.AWSRegion != "eu-west-1" {
				t.Errorf("request = %+v", req)
			}
			if req.EKSMode != deployment.EKSModeManaged || req.NodeGroup == nil || req.NodeGroup.DesiredSize != 3 {
				t.Errorf("node group = %+v", req.NodeGroup)
			}
		})
	}
}

func TestReadRequestFileInvalid(t *testing.T) {
	if _, err := readRequestFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := readRequestFile(writeFile(t, "bad.yaml", "customer_id: [unterminated")); err == nil {
		t.Error("expected error for malformed file")
	}
	if _, err := readRequestFile(writeFile(t, "typed.yaml", "customer_id: acme\nnode_group: 3\n")); err == nil {
		t.Error("expected error for mistyped field")
	}
}

func TestRequestFlagsOverlay(t *testing.T) {
	path := writeFile(t, "acme.yaml", "customer_id: acme\nenvironment: staging\naws_region: eu-west-1\n")

	flags := requestFlags{file: path, zones: []string{"eu-west-1a"}}
	flags.req.Environment = "prod"
	flags.req.EKSMode = deployment.EKSModeAuto

	req, err := flags.request()
	if err != nil {
		t.Fatalf("request() error = %v", err)
	}
	if req.CustomerID != "acme" {
		t.Errorf("CustomerID = %q, want value from file", req.CustomerID)
	}
	if req.Environment != "prod" {
		t.Errorf("Environment = %q, want flag override", req.Environment)
	}
	if req.AWSRegion != "eu-west-1" || req.EKSMode != deployment.EKSModeAuto {
		t.Errorf("request = %+v", req)
	}
	if len(req.AvailabilityZones) != 1 || req.AvailabilityZones[0] != "eu-west-1a" {
		t.Errorf("AvailabilityZones = %v", req.AvailabilityZones)
	}
}

func TestEnvironmentArg(t *testing.T) {
	if got := environmentArg([]string{"acme"}); got != deployment.DefaultEnvironment {
		t.Errorf("environmentArg() = %q, want %q", got, deployment.DefaultEnvironment)
	}
	if got := environmentArg([]string{"acme", "dev"}); got != "dev" {
		t.Errorf("environmentArg() = %q, want dev", got)
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand("test", "none", "today")
	for _, name := range []string{"serve", "migrate", "onboard", "update", "status", "destroy", "list", "events", "reconcile", "customers", "policy"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestJobWakeups(t *testing.T) {
	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}
	wake := jobWakeups(events, "acme-prod")

	tests := []struct {
		name    string
		publish func()
		want    bool
	}{
		{
			name:    "transition of the job",
			publish: func() { events.PublishJobTransition("acme-prod", 1, "pending", "in_progress", "started") },
			want:    true,
		},
		{
			name:    "trigger of the job",
			publish: func() { events.PublishJobTriggered("acme-prod", 1, "update", "dep-1") },
			want:    true,
		},
		{
			name:    "transition of another job",
			publish: func() { events.PublishJobTransition("globex-prod", 1, "pending", "in_progress", "started") },
		},
		{
			name:    "submission of the job",
			publish: func() { events.PublishJobSubmitted("acme-prod", 1, "onboard") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.publish()
			select {
			case <-wake:
				if !tt.want {
					t.Error("unexpected wakeup")
				}
			default:
				if tt.want {
					t.Error("expected a wakeup")
				}
			}
		})
	}

	// Wakeups coalesce instead of blocking the publisher.
	for range 3 {
		events.PublishJobTransition("acme-prod", 1, "in_progress", "succeeded", "done")
	}
	<-wake
	select {
	case <-wake:
		t.Error("expected coalesced wakeups")
	default:
	}
}
