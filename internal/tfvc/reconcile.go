package tfvc

import (
	"context"
	"fmt"
)

// ReconcileResult summarizes what the reconciler did to the server workspace.
type ReconcileResult struct {
	Workspace string
	Created   bool
	Unmapped  []string
	Decloaked []string
}

// reconcile brings the server workspace to the configured mapping set. It
// reads the listing once and derives every unmap from that single snapshot.
func (r *run) reconcile(ctx context.Context) (ReconcileResult, error) {
	res := ReconcileResult{Workspace: r.workspace}

	listing, err := r.listWorkspaces(ctx)
	if err != nil {
		return res, err
	}

	if !listing.Has(r.workspace) {
		if err := r.createWorkspace(ctx); err != nil {
			return res, err
		}
		res.Created = true
	} else {
		folders, _ := listing.WorkingFolders(r.workspace)
		r.logger.Debug("existing working folders", "workspace", r.workspace, "count", len(folders))

		if r.cfg.ExplicitDecloak {
			for _, f := range folders {
				if f.Type != FolderCloak {
					continue
				}
				r.logger.Info("decloaking", "item", f.Item)
				if err := r.decloak(ctx, f.Item); err != nil {
					return res, err
				}
				res.Decloaked = append(res.Decloaked, f.Item)
			}
		}

		// Unmapping a folder also drops the cloaks nested below it.
		for _, f := range folders {
			if !f.Materialized() {
				continue
			}
			r.logger.Info("unmapping", "item", f.Item, "local", f.Local)
			if err := r.unmap(ctx, f.Item); err != nil {
				return res, err
			}
			res.Unmapped = append(res.Unmapped, f.Item)
		}
	}

	if err := r.mapFolder(ctx, r.cfg.Branch, r.cfg.BranchDir); err != nil {
		return res, err
	}
	for _, p := range r.cfg.Cloaks {
		if err := r.cloak(ctx, r.cfg.subPath(p)); err != nil {
			return res, err
		}
	}
	for _, m := range r.cfg.Mappings {
		if err := r.mapFolder(ctx, r.cfg.subPath(m.Path), m.Dest); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (r *run) listWorkspaces(ctx context.Context) (*WorkspaceListing, error) {
	out, err := r.do(ctx, Command{
		Args:          []string{"vc", "workspaces", "/format:xml", "/collection:" + r.cfg.RepoURL},
		CaptureStdout: true,
	})
	if err != nil {
		return nil, err
	}

	listing, err := ParseWorkspaceListing([]byte(out.Stdout))
	if err != nil {
		return nil, fmt.Errorf("list workspaces for %s: %w", r.cfg.RepoURL, err)
	}
	return listing, nil
}

// createWorkspace creates a server-located workspace and drops the $/ root
// mapping the tool adds to every new workspace.
func (r *run) createWorkspace(ctx context.Context) error {
	r.logger.Info("creating workspace", "workspace", r.workspace)
	if _, err := r.do(ctx, Command{Args: []string{
		"vc", "workspace", "/new", r.workspace,
		"/location:server",
		"/collection:" + r.cfg.RepoURL,
		"/comment:" + r.id.comment(),
	}}); err != nil {
		return err
	}
	return r.unmap(ctx, "$/")
}

func (r *run) unmap(ctx context.Context, path string) error {
	_, err := r.do(ctx, Command{Args: []string{
		"vc", "workfold", "/unmap", "/workspace:" + r.workspace, path,
	}})
	return err
}

func (r *run) mapFolder(ctx context.Context, path, dest string) error {
	_, err := r.do(ctx, Command{
		Args:      []string{"vc", "workfold", "/workspace:" + r.workspace, "/map", path, dest},
		OnFailure: Tolerate,
	})
	return err
}

func (r *run) cloak(ctx context.Context, path string) error {
	_, err := r.do(ctx, Command{
		Args:      []string{"vc", "workfold", "/cloak", "/workspace:" + r.workspace, path},
		OnFailure: Tolerate,
	})
	return err
}

func (r *run) decloak(ctx context.Context, path string) error {
	_, err := r.do(ctx, Command{
		Args:      []string{"vc", "workfold", "/decloak", "/workspace:" + r.workspace, path},
		OnFailure: Tolerate,
	})
	return err
}
