package dbosruntime

import (
	"context"
	"fmt"
)

// WorkflowStatusInfo is the durable status record of one workflow instance.
type WorkflowStatusInfo struct {
	WorkflowID string `json:"instanceId"`
	Status     string `json:"runtimeStatus"`
	Name       string `json:"name"`
	CreatedAt  int64  `json:"createdTime"`
	UpdatedAt  int64  `json:"lastUpdatedTime"`
}

// GetWorkflowStatus reads an instance's status straight from the DBOS
// system table, so status survives worker restarts.
func (r *Runtime) GetWorkflowStatus(ctx context.Context, workflowID string) (*WorkflowStatusInfo, error) {
	query := `
		SELECT workflow_uuid, status, name, created_at, updated_at
		FROM dbos.workflow_status
		WHERE workflow_uuid = $1
	`

	var info WorkflowStatusInfo
	err := r.db.QueryRowContext(ctx, query, workflowID).Scan(
		&info.WorkflowID,
		&info.Status,
		&info.Name,
		&info.CreatedAt,
		&info.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("query workflow status: %w", err)
	}
	return &info, nil
}
