package autoscale

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"text/template"

	"github.com/cuemby/ghost/pkg/config"
	"github.com/cuemby/ghost/pkg/types"
)

var userDataTemplate = template.Must(template.New("userdata").Parse(`#!/bin/bash
# Bootstrap script generated by ghost
export GHOST_BUCKET_S3="{{ .Bucket }}"
export GHOST_BUCKET_REGION="{{ .BucketRegion }}"
export GHOST_ROOT_PATH="{{ .RootPath }}"
export GHOST_APP="{{ .App.Name }}"
export GHOST_ENV="{{ .App.Env }}"
export GHOST_ROLE="{{ .App.Role }}"
{{- if .Color }}
export GHOST_COLOR="{{ .Color }}"
{{- end }}

aws s3 cp "s3://${GHOST_BUCKET_S3}${GHOST_ROOT_PATH}/ghost/stage1" /tmp/stage1 --region "${GHOST_BUCKET_REGION}"
bash /tmp/stage1
`))

// UserData renders the base64 encoded launch configuration user data of app
func UserData(cfg *config.Config, app *types.App) (string, error) {
	var buf bytes.Buffer
	err := userDataTemplate.Execute(&buf, struct {
		Bucket       string
		BucketRegion string
		RootPath     string
		Color        types.Color
		App          *types.App
	}{
		Bucket:       cfg.BucketS3,
		BucketRegion: cfg.BucketRegionFor(app.Region),
		RootPath:     cfg.RootPath,
		Color:        app.Color(),
		App:          app,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render user data: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
