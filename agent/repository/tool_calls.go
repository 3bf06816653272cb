package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
)

type toolCallRow struct {
	bun.BaseModel `bun:"table:tool_calls,alias:tc"`

	ID           int64          `bun:"id,pk,autoincrement"`
	RoundtripID  uuid.UUID      `bun:"roundtrip_id,type:uuid,notnull"`
	CallIndex    int            `bun:"call_index,notnull"`
	TurnIndex    int            `bun:"turn_index,notnull"`
	ToolName     string         `bun:"tool_name,notnull"`
	Status       string         `bun:"status,notnull"`
	Reason       string         `bun:"reason,nullzero"`
	InputPayload map[string]any `bun:"input_payload,type:jsonb,notnull"`
	Output       map[string]any `bun:"output_payload,type:jsonb"`
	ErrorMessage string         `bun:"error_message,nullzero"`
	DurationMs   int64          `bun:"duration_ms,notnull"`
	Goal         string         `bun:"goal,nullzero"`
	Done         *bool          `bun:"done"`
	CreatedAt    time.Time      `bun:"created_at,notnull,default:current_timestamp"`
}

func newToolCallRow(roundtripID uuid.UUID, t contractx.TraceEntry) toolCallRow {
	input := t.Input
	if input == nil {
		input = map[string]any{}
	}
	return toolCallRow{
		RoundtripID:  roundtripID,
		CallIndex:    t.CallIndex,
		TurnIndex:    t.TurnIndex,
		ToolName:     t.ToolName,
		Status:       string(t.Status),
		Reason:       t.Reason,
		InputPayload: input,
		Output:       t.Output,
		ErrorMessage: t.ErrorMessage,
		DurationMs:   t.DurationMs,
		Goal:         t.Goal,
		Done:         t.Done,
	}
}

// ToolCallRepository appends trace entries to the tool_calls audit table.
type ToolCallRepository struct {
	db *bun.DB
}

func NewToolCallRepository(db *bun.DB) (*ToolCallRepository, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	return &ToolCallRepository{db: db}, nil
}

func (r *ToolCallRepository) AppendTraces(ctx context.Context, roundtripID string, traces []contractx.TraceEntry) error {
	if len(traces) == 0 {
		return nil
	}
	id, err := uuid.Parse(strings.TrimSpace(roundtripID))
	if err != nil {
		return fmt.Errorf("%w: roundtrip id %q: %v", contractx.ErrValidation, roundtripID, err)
	}

	rows := make([]toolCallRow, 0, len(traces))
	for _, t := range traces {
		rows = append(rows, newToolCallRow(id, t))
	}
	if _, err := r.insertQuery(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("append tool calls: %w", err)
	}
	return nil
}

func (r *ToolCallRepository) insertQuery(rows *[]toolCallRow) *bun.InsertQuery {
	return r.db.NewInsert().Model(rows).ExcludeColumn("id", "created_at")
}

// CreateSchema creates the tool_calls table when it is missing.
func (r *ToolCallRepository) CreateSchema(ctx context.Context) error {
	if _, err := r.createTableQuery().Exec(ctx); err != nil {
		return fmt.Errorf("create tool_calls table: %w", err)
	}
	return nil
}

func (r *ToolCallRepository) createTableQuery() *bun.CreateTableQuery {
	return r.db.NewCreateTable().Model((*toolCallRow)(nil)).IfNotExists()
}
