package cloud

import "context"

// Provider mirrors a repository directory to remote storage after a
// successful backup.
type Provider interface {
	Sync(ctx context.Context, repositoryPath, pathPrefix string, onLine func(string)) error
	Name() string
}

// Disabled is wired when no cloud sync configuration exists.
type Disabled struct{}

func (Disabled) Sync(context.Context, string, string, func(string)) error {
	return nil
}

func (Disabled) Name() string {
	return "disabled"
}
