package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/vibecoding/demo2apk/internal/models"
)

// Part size bounds. The whole body is already capped by MaxBytesReader;
// these bound the small parts individually.
const (
	maxFieldLen  = 256
	maxIconSize  = 2 << 20
	formOverhead = 4 << 20 // icon plus text fields and part framing
)

// uploadExt lists the accepted upload extensions per build kind.
var uploadExt = map[models.BuildKind][]string{
	models.KindHTML: {".html", ".htm"},
	models.KindZip:  {".zip"},
}

var iconExt = []string{".png", ".jpg", ".jpeg"}

// buildForm is a parsed submission. File parts are persisted under the
// task's upload directory by the time parsing returns.
type buildForm struct {
	AppName    string
	AppID      string
	FileName   string
	UploadPath string
	UploadSize int64
	IconPath   string
}

// parseBuildForm reads the multipart submission part by part: file
// parts stream straight to the upload workspace, the text fields are
// read in place, and unknown parts are drained and dropped. The caller
// removes the workspace when parsing fails.
func (s *Server) parseBuildForm(r *http.Request, kind models.BuildKind, taskID string) (*buildForm, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, badRequest("Expected a multipart/form-data body.")
	}

	form := &buildForm{}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read multipart body: %w", err)
		}

		switch part.FormName() {
		case "file":
			err = s.readUploadPart(part, kind, taskID, form)
		case "icon":
			err = s.readIconPart(part, taskID, form)
		case "appName":
			form.AppName = strings.TrimSpace(readField(part))
		case "appId":
			form.AppID = strings.TrimSpace(readField(part))
		default:
			_, _ = io.Copy(io.Discard, part)
		}
		part.Close()
		if err != nil {
			return nil, err
		}
	}

	if form.UploadPath == "" {
		return nil, badRequest("No file was uploaded. Send the document in the \"file\" field.")
	}
	return form, nil
}

func (s *Server) readUploadPart(part *multipart.Part, kind models.BuildKind, taskID string, form *buildForm) error {
	name := filepath.Base(part.FileName())
	if name == "" || name == "." || name == string(filepath.Separator) {
		return badRequest("The uploaded file has no name.")
	}
	if !extAllowed(name, uploadExt[kind]) {
		return badRequest("Unsupported file type %q. Accepted: %s.",
			filepath.Ext(name), strings.Join(uploadExt[kind], ", "))
	}
	path, n, err := s.store.SaveUpload(taskID, name, part)
	if err != nil {
		return err
	}
	if n == 0 {
		return badRequest("The uploaded file is empty.")
	}
	form.FileName = name
	form.UploadPath = path
	form.UploadSize = n
	return nil
}

func (s *Server) readIconPart(part *multipart.Part, taskID string, form *buildForm) error {
	name := filepath.Base(part.FileName())
	if name == "" || name == "." {
		// The icon is optional; an empty part is ignored.
		_, _ = io.Copy(io.Discard, part)
		return nil
	}
	if !extAllowed(name, iconExt) {
		return badRequest("Unsupported icon type %q. Accepted: %s.",
			filepath.Ext(name), strings.Join(iconExt, ", "))
	}
	path, n, err := s.store.SaveIcon(taskID, name, io.LimitReader(part, maxIconSize+1))
	if err != nil {
		return err
	}
	if n > maxIconSize {
		return badRequest("The icon exceeds the 2 MB limit.")
	}
	form.IconPath = path
	return nil
}

func readField(part *multipart.Part) string {
	b, _ := io.ReadAll(io.LimitReader(part, maxFieldLen))
	return string(b)
}

func extAllowed(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
