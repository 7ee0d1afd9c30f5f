package tfvc

import (
	"context"
	"fmt"
)

// Decision is how the local directory will be brought up to date.
type Decision int

const (
	// Clobber removes the local directory and fetches everything.
	Clobber Decision = iota
	// Update fetches into the existing directory.
	Update
)

func (d Decision) String() string {
	if d == Update {
		return "update"
	}
	return "clobber"
}

// modeHandler maps a mode to the function choosing the decision for it.
func (r *run) modeHandler(m Mode) (func(context.Context) (Decision, error), error) {
	switch m {
	case ModeFull:
		return r.decideFull, nil
	case ModeIncremental:
		return r.decideIncremental, nil
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, m)
	}
}

func (r *run) decideFull(context.Context) (Decision, error) {
	r.logger.Info("performing clean checkout")
	return Clobber, nil
}

func (r *run) decideIncremental(ctx context.Context) (Decision, error) {
	updatable, err := r.sourceDirIsUpdatable(ctx)
	if err != nil {
		return Clobber, err
	}
	if !updatable {
		r.logger.Info("workspace not updatable, performing clean checkout")
		return Clobber, nil
	}
	r.logger.Info("updating existing workspace")
	return Update, nil
}

// sourceDirIsUpdatable is true only when the checkout directory exists and
// the tool reports it is mapped to exactly the configured branch.
func (r *run) sourceDirIsUpdatable(ctx context.Context) (bool, error) {
	dir, err := r.dirs.Resolve(r.cfg.BranchDir)
	if err != nil {
		return false, err
	}
	exists, err := r.dirs.Exists(ctx, dir)
	if err != nil {
		return false, err
	}
	if !exists {
		r.logger.Info("checkout directory missing", "dir", dir)
		return false, nil
	}

	out, err := r.do(ctx, Command{
		Args:          []string{"vc", "info", r.cfg.BranchDir},
		CaptureStdout: true,
		CaptureStderr: true,
		OnFailure:     Tolerate,
	})
	if err != nil {
		return false, err
	}
	if out.Failed() {
		r.logger.Info("info probe failed, forcing clean checkout", "exit_code", out.ExitCode)
		return false, nil
	}

	serverPath, ok := ParseServerPath(out.Stdout)
	if !ok {
		r.logger.Info("no branch information found in working dir, forcing clean checkout")
		return false, nil
	}
	r.logger.Info("found branch", "server_path", serverPath)
	return serverPath == r.cfg.Branch, nil
}

// apply carries out the decision.
func (r *run) apply(ctx context.Context, d Decision) error {
	if d == Clobber {
		if err := r.clobber(ctx); err != nil {
			return err
		}
	}
	return r.get(ctx)
}

// clobber removes the build directory and, when it lives elsewhere, the
// checkout directory.
func (r *run) clobber(ctx context.Context) error {
	root, err := r.dirs.Resolve("")
	if err != nil {
		return err
	}
	branchDir, err := r.dirs.Resolve(r.cfg.BranchDir)
	if err != nil {
		return err
	}

	for _, dir := range []string{root, branchDir} {
		if dir == branchDir && isWithin(root, branchDir) {
			continue
		}
		r.logger.Info("removing local directory", "dir", dir)
		if err := r.dirs.Remove(ctx, dir); err != nil {
			return fmt.Errorf("clobber %s: %w", dir, err)
		}
	}
	return nil
}

func (r *run) get(ctx context.Context) error {
	args := []string{"vc", "get"}
	if r.cfg.Revision != "" {
		args = append(args, "/version:"+r.cfg.Revision)
	}
	args = append(args, "/recursive", "/overwrite", ".")

	_, err := r.do(ctx, Command{Args: args})
	return err
}
