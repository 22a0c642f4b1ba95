// Package coverage reads Cobertura coverage reports and uploads them to a
// coverage service.
package coverage

import (
	"bytes"
	"context"
	"encoding/xml"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/felixgeelhaar/cigate/internal/errors"
	"github.com/felixgeelhaar/cigate/internal/log"
)

// Report is the top-level summary of a Cobertura report.
type Report struct {
	LineRate     float64   `xml:"line-rate,attr"`
	BranchRate   float64   `xml:"branch-rate,attr"`
	LinesValid   int       `xml:"lines-valid,attr"`
	LinesCovered int       `xml:"lines-covered,attr"`
	Timestamp    int64     `xml:"timestamp,attr"`
	Packages     []Package `xml:"packages>package"`
}

// Package is one package entry of a Cobertura report.
type Package struct {
	Name     string  `xml:"name,attr"`
	LineRate float64 `xml:"line-rate,attr"`
}

// Percent returns line coverage as a percentage.
func (r *Report) Percent() float64 {
	return r.LineRate * 100
}

// ParseCobertura decodes the summary attributes of a coverage.xml report.
func ParseCobertura(r io.Reader) (*Report, error) {
	var rep Report
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&rep); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCoverageReport, "failed to parse coverage report", err)
	}
	if rep.LineRate == 0 && rep.LinesValid > 0 {
		rep.LineRate = float64(rep.LinesCovered) / float64(rep.LinesValid)
	}
	return &rep, nil
}

// ParseFile parses the report at path.
func ParseFile(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFoundError(path).
				WithSuggestion("Run the tests with coverage enabled to produce the report")
		}
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "failed to open coverage report", err)
	}
	defer f.Close()
	return ParseCobertura(f)
}

// Meta identifies the build a report belongs to.
type Meta struct {
	Commit string
	Branch string
	Build  string
	Name   string
}

// Uploader posts coverage reports to a Codecov-compatible endpoint.
type Uploader struct {
	Endpoint string
	Token    string
	Flags    []string
	// FailOnError turns upload failures into job failures. When false they
	// are logged and ignored.
	FailOnError bool

	Client *http.Client
	Logger *log.Logger
}

// NewUploader returns an Uploader with a bounded HTTP client.
func NewUploader(endpoint, token string, failOnError bool) *Uploader {
	return &Uploader{
		Endpoint:    endpoint,
		Token:       token,
		FailOnError: failOnError,
		Client:      &http.Client{Timeout: 60 * time.Second},
	}
}

// Upload sends the report at reportPath.
func (u *Uploader) Upload(ctx context.Context, reportPath string, meta Meta) error {
	if err := u.upload(ctx, reportPath, meta); err != nil {
		if u.FailOnError {
			return err
		}
		u.logger().Warn("coverage upload failed, continuing", "report", reportPath, "error", err)
	}
	return nil
}

func (u *Uploader) upload(ctx context.Context, reportPath string, meta Meta) error {
	body, err := os.ReadFile(reportPath)
	if err != nil {
		return errors.Wrap(errors.ErrCodeCoverageUpload, "failed to read coverage report", err).
			WithSuggestion("Check that the coverage entry of the matrix ran with --cov")
	}

	endpoint, err := u.requestURL(meta)
	if err != nil {
		return errors.Wrap(errors.ErrCodeCoverageUpload, "invalid coverage endpoint", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(errors.ErrCodeCoverageUpload, "failed to create upload request", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "text/plain")
	if u.Token != "" {
		req.Header.Set("Authorization", "token "+u.Token)
	}

	client := u.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrCodeCoverageUpload, "coverage upload request failed", redact(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.New(errors.ErrCodeCoverageUpload,
			fmt.Sprintf("coverage service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	u.logger().Info("coverage uploaded", "report", reportPath, "status", resp.StatusCode)
	return nil
}

func (u *Uploader) requestURL(meta Meta) (string, error) {
	parsed, err := url.Parse(u.Endpoint)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("endpoint %q is not an absolute URL", u.Endpoint)
	}

	q := parsed.Query()
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("commit", meta.Commit)
	set("branch", meta.Branch)
	set("build", meta.Build)
	set("name", meta.Name)
	if len(u.Flags) > 0 {
		q.Set("flags", strings.Join(u.Flags, ","))
	}
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

// redact drops the query string from URLs in transport errors. A token
// configured into the endpoint itself must not reach logs, history or
// hook payloads.
func redact(err error) error {
	var ue *url.Error
	if !stderrors.As(err, &ue) {
		return err
	}
	if parsed, perr := url.Parse(ue.URL); perr == nil {
		parsed.RawQuery = ""
		parsed.User = nil
		ue.URL = parsed.String()
	} else {
		ue.URL = "<redacted>"
	}
	return ue
}

func (u *Uploader) logger() *log.Logger {
	if u.Logger != nil {
		return u.Logger
	}
	return log.Discard()
}
