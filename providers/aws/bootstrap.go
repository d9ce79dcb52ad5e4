package aws

import (
	"bytes"
	"encoding/base64"
	"text/template"

	"spot-orchestrator/core/models"
)

var bootstrapTemplate = template.Must(template.New("bootstrap").Parse(`#!/bin/bash
set -euo pipefail
trap 'shutdown -h now' EXIT
exec >> /var/log/analysis-bootstrap.log 2>&1

# Install AWS CLI (if not present)
if ! command -v aws &> /dev/null; then
    apt-get update -y
    apt-get install -y awscli
fi

mkdir -p /opt/analysis
cd /opt/analysis

aws s3 cp "s3://{{.Bucket}}/{{.InputRef}}" input
{{.Command}} input result

# Result first, marker last: the marker means the result is complete
aws s3 cp result "s3://{{.Bucket}}/{{.ResultRef}}"
: > status
aws s3 cp status "s3://{{.Bucket}}/{{.MarkerRef}}"
`))

type bootstrapData struct {
	models.Bootstrap
	Bucket  string
	Command string
}

// renderBootstrap returns the base64 user data for one instance
func renderBootstrap(bucket, command string, b models.Bootstrap) (string, error) {
	var buf bytes.Buffer
	err := bootstrapTemplate.Execute(&buf, bootstrapData{
		Bootstrap: b,
		Bucket:    bucket,
		Command:   command,
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
