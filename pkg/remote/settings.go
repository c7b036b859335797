package remote

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
)

type settingsRequest struct {
	SourceContext    sourceContext    `json:"sourceContext"`
	OperationContext operationContext `json:"operationContext"`
}

type sourceContext struct {
	Git gitSource `json:"git"`
}

type gitSource struct {
	RepoURL string   `json:"repoUrl"`
	Branch  string   `json:"branch"`
	RepoDir string   `json:"repoDir"`
	GitAuth *gitAuth `json:"gitAuth,omitempty"`
}

type gitAuth struct {
	AccessToken secretValue `json:"accessToken"`
}

type secretValue struct {
	Secret string `json:"secret"`
}

type operationContext struct {
	PreRunCommands       []string       `json:"preRunCommands"`
	EnvironmentVariables map[string]any `json:"environmentVariables"`
}

// buildSettings renders the deployment settings for a stack: where to fetch
// the program from, and the commands that seed the stack configuration
// before every operation.
func (c *Client) buildSettings(stack string, params deployment.Parameters) settingsRequest {
	git := gitSource{
		RepoURL: c.source.RepoURL,
		Branch:  "refs/heads/" + c.source.Branch,
		RepoDir: c.source.RepoDir,
	}
	if c.source.AccessToken != "" {
		git.GitAuth = &gitAuth{AccessToken: secretValue{Secret: c.source.AccessToken}}
	}

	return settingsRequest{
		SourceContext: sourceContext{Git: git},
		OperationContext: operationContext{
			PreRunCommands: configCommands(c.StackID(stack), params),
			EnvironmentVariables: map[string]any{
				"AWS_ACCESS_KEY_ID":     c.credentials.AccessKeyID,
				"AWS_SECRET_ACCESS_KEY": secretValue{Secret: c.credentials.SecretAccessKey},
				"AWS_REGION":            params.AWSRegion,
			},
		},
	}
}

func configCommands(stackID string, params deployment.Parameters) []string {
	set := func(key, value string) string {
		return fmt.Sprintf("pulumi config set --stack %s %s %s", stackID, key, shellQuote(value))
	}

	cmds := []string{
		"pip install -r requirements.txt",
		set("customerName", params.CustomerID),
		set("environment", params.Environment),
		set("customerRoleArn", params.RoleARN),
		fmt.Sprintf("pulumi config set --stack %s --secret externalId %s", stackID, shellQuote(params.ExternalID)),
		set("awsRegion", params.AWSRegion),
		set("vpcCidr", params.VPCCIDR),
		set("eksVersion", params.EKSVersion),
		set("eksMode", string(params.EKSMode)),
	}

	if len(params.AvailabilityZones) > 0 {
		cmds = append(cmds, set("availabilityZones", strings.Join(params.AvailabilityZones, ",")))
	}

	if params.EKSMode == deployment.EKSModeManaged {
		ng := deployment.DefaultNodeGroup()
		if params.NodeGroup != nil {
			ng = *params.NodeGroup
		}
		cmds = append(cmds,
			set("nodeInstanceTypes", strings.Join(ng.InstanceTypes, ",")),
			set("nodeDesiredSize", strconv.Itoa(ng.DesiredSize)),
			set("nodeMinSize", strconv.Itoa(ng.MinSize)),
			set("nodeMaxSize", strconv.Itoa(ng.MaxSize)),
			set("nodeDiskSize", strconv.Itoa(ng.DiskSize)),
			set("nodeCapacityType", ng.CapacityType),
		)
	}

	return cmds
}

// shellQuote single-quotes s unless it only contains characters that are
// safe in a shell word.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			strings.ContainsRune("-_./:,@=+", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
