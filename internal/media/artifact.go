package media

import (
	"os"
	"sync"

	"meeting-insights-go/internal/logger"
)

// Artifact is a file or directory owned by one pipeline run. Release removes it
// once; a failed removal is logged and never returned.
type Artifact struct {
	Path string

	root   string // removed instead of Path when set
	log    *logger.Logger
	once   sync.Once
	remove func(string) error
}

func NewArtifact(path string, log *logger.Logger) *Artifact {
	return &Artifact{Path: path, log: log, remove: os.RemoveAll}
}

// NewScopedArtifact exposes path but releases the whole root directory.
func NewScopedArtifact(root, path string, log *logger.Logger) *Artifact {
	return &Artifact{Path: path, root: root, log: log, remove: os.RemoveAll}
}

// Release deletes the artifact. Safe to call more than once and on nil.
func (a *Artifact) Release() {
	if a == nil || a.Path == "" {
		return
	}
	target := a.Path
	if a.root != "" {
		target = a.root
	}
	a.once.Do(func() {
		if err := a.remove(target); err != nil {
			if a.log != nil {
				a.log.WithError(err).WithField("path", target).Warn("failed to remove media artifact")
			}
			return
		}
		if a.log != nil {
			a.log.WithField("path", target).Debug("media artifact removed")
		}
	})
}
