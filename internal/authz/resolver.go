package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dominikbraun/graph"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const syntheticRootID = "<root>"

// PermissionResolver flattens a role and everything it inherits into one
// permission map.
type PermissionResolver struct {
	roles  RoleStore
	group  singleflight.Group
	logger *zap.Logger
}

// NewPermissionResolver returns a resolver backed by roles.
func NewPermissionResolver(roles RoleStore, logger *zap.Logger) *PermissionResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PermissionResolver{roles: roles, logger: logger}
}

// ResolveByID loads roleID and resolves it. A missing root role is reported
// as *EntityNotFoundError; concurrent calls for the same id share one walk.
// The shared walk is detached from any single caller's cancellation; each
// caller stops waiting when its own ctx is done.
func (r *PermissionResolver) ResolveByID(ctx context.Context, roleID string) (Permissions, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, &ValidationError{Field: "roleId", Message: "is required"}
	}
	walkCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(roleID, func() (any, error) {
		role, err := r.roles.FindRole(walkCtx, roleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, &EntityNotFoundError{Resource: "role", ID: roleID}
			}
			return nil, fmt.Errorf("load role %s: %w", roleID, err)
		}
		return r.Resolve(walkCtx, role)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		// Results are shared between singleflight callers.
		return res.Val.(Permissions).Clone(), nil
	}
}

// Resolve walks the inheritance graph breadth-first from root, unioning the
// permissions of every visited role. Each edge is added to a DAG that rejects
// cycles, so a cyclic configuration fails with ErrRoleCycle instead of looping.
func (r *PermissionResolver) Resolve(ctx context.Context, root Role) (Permissions, error) {
	rootID := strings.TrimSpace(root.ID)
	if rootID == "" {
		rootID = syntheticRootID
		root.ID = rootID
	}

	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	if err := g.AddVertex(rootID); err != nil {
		return nil, err
	}

	visited := map[string]struct{}{rootID: {}}
	queue := []Role{root}
	acc := Permissions{}

	for len(queue) > 0 {
		role := queue[0]
		queue = queue[1:]

		for resource, verbs := range role.Permissions {
			acc[resource] = append(acc[resource], verbs...)
		}

		for _, parentID := range role.InheritsRoleIDs {
			parentID = strings.TrimSpace(parentID)
			if parentID == "" {
				continue
			}
			if parentID == role.ID {
				return nil, fmt.Errorf("%w: role %s inherits itself", ErrRoleCycle, role.ID)
			}
			if err := g.AddVertex(parentID); err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
				return nil, err
			}
			if err := g.AddEdge(role.ID, parentID); err != nil {
				switch {
				case errors.Is(err, graph.ErrEdgeAlreadyExists):
					continue
				case errors.Is(err, graph.ErrEdgeCreatesCycle):
					return nil, fmt.Errorf("%w: %s -> %s", ErrRoleCycle, role.ID, parentID)
				default:
					return nil, err
				}
			}
			if _, seen := visited[parentID]; seen {
				continue
			}
			visited[parentID] = struct{}{}

			parent, err := r.roles.FindRole(ctx, parentID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return nil, fmt.Errorf("%w: %s inherited by %s", ErrRoleNotFound, parentID, role.ID)
				}
				return nil, fmt.Errorf("load role %s: %w", parentID, err)
			}
			parent.ID = parentID
			queue = append(queue, parent)
		}
	}

	r.logger.Debug("resolved role permissions",
		zap.String("role_id", root.ID),
		zap.Int("roles_visited", len(visited)),
	)
	return acc.Normalize(), nil
}
