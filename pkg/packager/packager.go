// Package packager builds the versioned tar.gz archive of a module working
// copy, uploads it to the package bucket and purges old packages.
package packager

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/cuemby/ghost/pkg/errdefs"
	"github.com/cuemby/ghost/pkg/log"
	"github.com/cuemby/ghost/pkg/metrics"
	"github.com/cuemby/ghost/pkg/types"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

// Extension is appended to a package name to form its object name
const Extension = ".tar.gz"

// Name returns the package identifier {ts}_{module}_{commit}
func Name(ts int64, module, commit string) string {
	return fmt.Sprintf("%d_%s_%s", ts, module, commit)
}

// Timestamp extracts the leading timestamp of a package identifier or
// object name
func Timestamp(name string) (int64, bool) {
	base := path.Base(name)
	i := strings.IndexByte(base, '_')
	if i <= 0 {
		return 0, false
	}
	ts, err := strconv.ParseInt(base[:i], 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// ModulePath returns <root>/<name>/<env>/<role>/<module>, the module's
// working copy directory. Both colors of a blue/green pair share it.
func ModulePath(rootPath string, app *types.App, module string) string {
	return path.Join(rootPath, app.Name, app.Env, app.Role, module)
}

// Packager archives and uploads module packages
type Packager struct {
	api      s3iface.S3API
	bucket   string
	rootPath string
	tmpDir   string
	logger   zerolog.Logger
}

// New creates a packager uploading to bucket
func New(api s3iface.S3API, bucket, rootPath string) *Packager {
	return &Packager{
		api:      api,
		bucket:   bucket,
		rootPath: rootPath,
		logger:   log.WithComponent("packager"),
	}
}

// WithLogger returns a copy of the packager logging to logger
func (p *Packager) WithLogger(logger zerolog.Logger) *Packager {
	cp := *p
	cp.logger = logger
	return &cp
}

// WithTempDir sets where archives are staged before upload
func (p *Packager) WithTempDir(dir string) *Packager {
	p.tmpDir = dir
	return p
}

// Prefix returns the object prefix of a module's packages,
// <root>/<name>/<env>/<role>[/<color>]/<module>/ without the leading slash.
// Each color of a pair keeps its own packages and retention.
func (p *Packager) Prefix(app *types.App, module string) string {
	parts := []string{p.rootPath, app.Name, app.Env, app.Role}
	if color := app.Color(); color != "" {
		parts = append(parts, string(color))
	}
	parts = append(parts, module)
	return strings.TrimPrefix(path.Join(parts...), "/") + "/"
}

// Key returns the object key of a package
func (p *Packager) Key(app *types.App, module, pkg string) string {
	return p.Prefix(app, module) + pkg + Extension
}

// Package archives dir, excluding the .git directory, and uploads it as
// the package named from ts and commit. It returns the package identifier.
func (p *Packager) Package(ctx context.Context, app *types.App, module *types.Module, dir string, ts int64, commit string) (string, error) {
	pkg := Name(ts, module.Name, commit)
	p.logger.Info().Str("package", pkg).Msg("Creating package")

	tmp, err := os.CreateTemp(p.tmpDir, pkg+"-*"+Extension)
	if err != nil {
		return "", errdefs.Packaging("create package file", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if err := Archive(dir, tmp); err != nil {
		return "", errdefs.Packaging(fmt.Sprintf("archive %s", dir), err)
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", errdefs.Packaging("size package", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", errdefs.Packaging("rewind package", err)
	}
	metrics.PackageBytes.Observe(float64(size))

	key := p.Key(app, module.Name, pkg)
	p.logger.Info().Str("package", pkg).Str("key", key).Int64("bytes", size).Msg("Uploading package")
	if _, err := p.api.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        tmp,
		ContentType: aws.String("application/gzip"),
	}); err != nil {
		return "", errdefs.Upload(fmt.Sprintf("upload s3://%s/%s", p.bucket, key), err)
	}
	return pkg, nil
}

// Purge deletes all but the newest keep packages of a module and returns
// the deleted package identifiers
func (p *Packager) Purge(ctx context.Context, app *types.App, module string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	prefix := p.Prefix(app, module)

	type object struct {
		key string
		ts  int64
	}
	var objects []object
	err := p.api.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(p.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, last bool) bool {
		for _, o := range page.Contents {
			key := aws.StringValue(o.Key)
			if !strings.HasSuffix(key, Extension) {
				continue
			}
			if ts, ok := Timestamp(key); ok {
				objects = append(objects, object{key: key, ts: ts})
			}
		}
		return true
	})
	if err != nil {
		return nil, errdefs.Cloud(fmt.Sprintf("list packages s3://%s/%s", p.bucket, prefix), err)
	}
	if len(objects) <= keep {
		return nil, nil
	}

	sort.SliceStable(objects, func(i, j int) bool { return objects[i].ts > objects[j].ts })
	stale := objects[keep:]

	var ids []*s3.ObjectIdentifier
	var purged []string
	for _, o := range stale {
		ids = append(ids, &s3.ObjectIdentifier{Key: aws.String(o.key)})
		purged = append(purged, strings.TrimSuffix(path.Base(o.key), Extension))
	}
	p.logger.Info().Str("module", module).Int("count", len(ids)).Msg("Purging old packages")
	if _, err := p.api.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(p.bucket),
		Delete: &s3.Delete{Objects: ids, Quiet: aws.Bool(true)},
	}); err != nil {
		return nil, errdefs.Cloud(fmt.Sprintf("delete packages s3://%s/%s", p.bucket, prefix), err)
	}
	return purged, nil
}

// Archive writes dir as a gzip compressed tar stream to w. The .git
// directory is skipped; symbolic links are stored as links.
func Archive(dir string, w io.Writer) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.Walk(dir, func(file string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, file)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if info.IsDir() && info.Name() == ".git" {
			return filepath.SkipDir
		}

		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(file); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}
