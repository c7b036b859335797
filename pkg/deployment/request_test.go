package deployment

import (
	"strings"
	"testing"
)

func validRequest() *OnboardRequest {
	return &OnboardRequest{
		CustomerID: "acme-co",
		RoleARN:    "arn:aws:iam::123456789012:role/ByocDeployer",
		ExternalID: "ext-0123456789",
	}
}

func TestOnboardRequestDefaults(t *testing.T) {
	req := validRequest()
	req.ApplyDefaults()

	if err := req.Validate(); err != nil {
		t.Fatalf("expected defaulted request to validate: %v", err)
	}
	if req.Environment != "prod" {
		t.Errorf("expected default environment prod, got %s", req.Environment)
	}
	if req.Key() != "acme-co-prod" {
		t.Errorf("expected key acme-co-prod, got %s", req.Key())
	}

	params := req.Parameters()
	if params.NodeGroup == nil {
		t.Fatal("expected managed mode to carry a default node group")
	}
	if params.NodeGroup.DesiredSize != 2 || params.NodeGroup.CapacityType != "ON_DEMAND" {
		t.Errorf("unexpected default node group: %+v", params.NodeGroup)
	}
	zones := params.Zones()
	if len(zones) != 3 || zones[0] != "us-east-1a" {
		t.Errorf("unexpected default zones: %v", zones)
	}
}

func TestOnboardRequestValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *OnboardRequest)
		wantErr bool
	}{
		{name: "valid", mutate: func(r *OnboardRequest) {}},
		{name: "uppercase customer", mutate: func(r *OnboardRequest) { r.CustomerID = "Acme" }, wantErr: true},
		{name: "short customer", mutate: func(r *OnboardRequest) { r.CustomerID = "ac" }, wantErr: true},
		{name: "hyphenated environment", mutate: func(r *OnboardRequest) { r.Environment = "prod-eu" }, wantErr: true},
		{name: "bad role arn", mutate: func(r *OnboardRequest) { r.RoleARN = "arn:aws:iam::123:role/x" }, wantErr: true},
		{name: "short external id", mutate: func(r *OnboardRequest) { r.ExternalID = "short" }, wantErr: true},
		{name: "bad cidr", mutate: func(r *OnboardRequest) { r.VPCCIDR = "10.0.0.0" }, wantErr: true},
		{name: "bad mode", mutate: func(r *OnboardRequest) { r.EKSMode = "fargate" }, wantErr: true},
		{
			name: "node group out of range",
			mutate: func(r *OnboardRequest) {
				r.NodeGroup = &NodeGroup{DesiredSize: 10, MinSize: 1, MaxSize: 5}
			},
			wantErr: true,
		},
		{
			name: "spot node group",
			mutate: func(r *OnboardRequest) {
				r.NodeGroup = &NodeGroup{CapacityType: "SPOT", InstanceTypes: []string{"m5.large"}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)
			req.ApplyDefaults()
			err := req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsCode(err, ErrCodeValidation) {
				t.Errorf("expected VALIDATION_ERROR, got %v", err)
			}
		})
	}
}

func TestParametersRedaction(t *testing.T) {
	req := validRequest()
	req.ApplyDefaults()
	params := req.Parameters()

	if strings.Contains(params.String(), req.ExternalID) {
		t.Error("String() must not expose the external id")
	}
	if params.Redacted().ExternalID == req.ExternalID {
		t.Error("Redacted() must hide the external id")
	}
	if params.ExternalID != req.ExternalID {
		t.Error("Redacted() must not mutate the receiver")
	}
}

func TestValidateIdentity(t *testing.T) {
	if err := ValidateIdentity("acme-co", "dev"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateIdentity("acme-co", "de-v"); err == nil {
		t.Error("expected hyphenated environment to be rejected")
	}
	if err := ValidateIdentity("../etc", "dev"); err == nil {
		t.Error("expected path-like customer id to be rejected")
	}
}
