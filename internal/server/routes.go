package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/engine/auth"
	"caseline/internal/repo"
	"caseline/internal/timeline"
)

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

type casePath struct {
	CaseID string `path:"case_id"`
}

func registerStages(api huma.API, e engine.Engine, svc auth.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-stages",
		Method:      http.MethodGet,
		Path:        "/stages",
		Summary:     "List pipeline stages",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Stage `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, svc, auth.PermCaseRead); err != nil {
			return nil, handleError(err)
		}
		dir, err := e.Directory(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Stage `json:"body"`
		}{Body: dir.Stages()}, nil
	})
}

func registerCases(api huma.API, e engine.Engine, svc auth.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-case",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "Open a case",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateCaseRequest
	}) (*struct {
		Body domain.Case `json:"body"`
	}, error) {
		p, err := requirePermission(ctx, svc, auth.PermCaseWrite)
		if err != nil {
			return nil, handleError(err)
		}
		c, err := e.CreateCase(ctx, engine.CaseCreateOptions{
			ID:       input.Body.ID,
			Name:     input.Body.Name,
			StageRef: input.Body.Stage,
			ActorID:  p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Case `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases",
	}, func(ctx context.Context, input *struct {
		Stage string `query:"stage" doc:"Filter by current stage id, slug or label"`
		Limit int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []domain.Case `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, svc, auth.PermCaseRead); err != nil {
			return nil, handleError(err)
		}
		filters := repo.CaseFilters{Limit: input.Limit}
		if input.Stage != "" {
			dir, err := e.Directory(ctx)
			if err != nil {
				return nil, handleError(err)
			}
			stage, ok := dir.Resolve(input.Stage)
			if !ok {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid stage "+input.Stage, nil)
			}
			filters.StageID = stage.ID
		}
		cases, err := e.Repo.ListCases(ctx, filters)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Case `json:"body"`
		}{Body: nonNil(cases)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}",
		Summary:     "Get case",
	}, func(ctx context.Context, input *casePath) (*struct {
		Body domain.Case `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, svc, auth.PermCaseRead); err != nil {
			return nil, handleError(err)
		}
		c, err := e.Repo.GetCase(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Case `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "change-stage",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/stage",
		Summary:       "Move a case to another stage",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Body   ChangeStageRequest
	}) (*struct {
		Body domain.StageTransition `json:"body"`
	}, error) {
		p, err := requirePermission(ctx, svc, auth.PermCaseWrite)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.ChangeStage(ctx, engine.StageChangeOptions{
			CaseID:      input.CaseID,
			StageRef:    input.Body.Stage,
			EffectiveAt: input.Body.EffectiveAt,
			Reason:      input.Body.Reason,
			ActorID:     p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StageTransition `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "case-history",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/history",
		Summary:     "Raw stage history",
	}, func(ctx context.Context, input *casePath) (*struct {
		Body []domain.StageTransition `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, svc, auth.PermCaseRead); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		hist, err := e.Repo.ListHistory(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.StageTransition `json:"body"`
		}{Body: nonNil(hist)}, nil
	})
}

func registerActivities(api huma.API, e engine.Engine, svc auth.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "log-activity",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/activities",
		Summary:       "Log an activity",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Body   LogActivityRequest
	}) (*struct {
		Body ActivityDTO `json:"body"`
	}, error) {
		p, err := requirePermission(ctx, svc, auth.PermCaseWrite)
		if err != nil {
			return nil, handleError(err)
		}
		var details json.RawMessage
		if input.Body.Details != nil {
			if details, err = json.Marshal(input.Body.Details); err != nil {
				return nil, handleError(err)
			}
		}
		a, err := e.LogActivity(ctx, input.CaseID, input.Body.ActivityType, p.ActorID, details)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActivityDTO `json:"body"`
		}{Body: toActivityDTO(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-activities",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/activities",
		Summary:     "List activities, newest first",
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Limit  int    `query:"limit" minimum:"0" maximum:"1000"`
	}) (*struct {
		Body []ActivityDTO `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, svc, auth.PermCaseRead); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListActivities(ctx, input.CaseID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ActivityDTO `json:"body"`
		}{Body: toActivityDTOs(items)}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine, svc auth.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/tasks",
		Summary:       "Create a follow-up task",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Body   CreateTaskRequest
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		p, err := requirePermission(ctx, svc, auth.PermCaseWrite)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			ID:      input.Body.ID,
			CaseID:  input.CaseID,
			Title:   input.Body.Title,
			DueDate: input.Body.DueDate,
			ActorID: p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Open   bool   `query:"open" doc:"Only pending tasks"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, svc, auth.PermCaseRead); err != nil {
			return nil, handleError(err)
		}
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		tasks, err := e.Repo.ListTasks(ctx, input.CaseID, input.Open)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: nonNil(tasks)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/tasks/{task_id}/status",
		Summary:     "Complete or cancel a task",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		TaskID string `path:"task_id"`
		Body   SetTaskStatusRequest
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		p, err := requirePermission(ctx, svc, auth.PermCaseWrite)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.SetTaskStatus(ctx, input.CaseID, input.TaskID, input.Body.Status, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func registerTimeline(api huma.API, e engine.Engine, svc auth.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "case-timeline",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/timeline",
		Summary:     "Stage-partitioned activity timeline",
		Description: "Collapsed buckets report activity_count only. Use expand and collapse to override the default state per stage.",
	}, func(ctx context.Context, input *struct {
		CaseID   string `path:"case_id"`
		Expand   string `query:"expand" doc:"Comma-separated stage ids to expand, or all"`
		Collapse string `query:"collapse" doc:"Comma-separated stage ids to collapse"`
	}) (*struct {
		Body TimelineDTO `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, svc, auth.PermTimelineRead); err != nil {
			return nil, handleError(err)
		}
		c, err := e.Repo.GetCase(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		tl, err := e.Timeline(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		view := timeline.NewView()
		view.Refresh(tl)
		for _, id := range splitList(input.Expand) {
			if id == "all" {
				for _, b := range tl.Buckets {
					view.Set(b.Stage.ID, true)
				}
				continue
			}
			view.Set(id, true)
		}
		for _, id := range splitList(input.Collapse) {
			view.Set(id, false)
		}
		return &struct {
			Body TimelineDTO `json:"body"`
		}{Body: toTimelineDTO(c, view.Timeline(), e.Clock())}, nil
	})
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func registerAPIKeys(api huma.API, e engine.Engine, svc auth.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Issue an API key",
		Description:   "The plaintext key is returned once; only its hash is stored.",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest
	}) (*struct {
		Body CreatedAPIKeyDTO `json:"body"`
	}, error) {
		p, err := requirePermission(ctx, svc, auth.PermAPIKeyManage)
		if err != nil {
			return nil, handleError(err)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			actor = p.ActorID
		}
		rec, key, err := e.CreateAPIKey(ctx, engine.APIKeyCreateOptions{
			ActorID: actor,
			Name:    input.Body.Name,
			Roles:   input.Body.Roles,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreatedAPIKeyDTO `json:"body"`
		}{Body: CreatedAPIKeyDTO{APIKeyDTO: toAPIKeyDTO(rec), Key: key}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyDTO `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, svc, auth.PermAPIKeyManage); err != nil {
			return nil, handleError(err)
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyDTO, 0, len(keys))
		for _, k := range keys {
			out = append(out, toAPIKeyDTO(k))
		}
		return &struct {
			Body []APIKeyDTO `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{key_id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if _, err := requirePermission(ctx, svc, auth.PermAPIKeyManage); err != nil {
			return nil, handleError(err)
		}
		if err := e.RevokeAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
