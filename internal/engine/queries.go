package engine

import (
	"fmt"

	"github.com/crewline/arbiter/pkg/models"
)

// Progress returns the pipeline summary.
func (e *Engine) Progress() *models.PipelineSummary {
	return e.reg.Summary()
}

// onQuery answers a task or summary query back to the sender. Unanswerable
// queries come back with Error set; the engine never leaves a query silent.
func (e *Engine) onQuery(msg *models.Message, payload *models.QueryRequestPayload) {
	var answer models.QueryResponsePayload
	switch {
	case payload.TaskID != "":
		task, err := e.reg.Get(payload.TaskID)
		if err != nil {
			answer.Error = fmt.Sprintf("task %s not found", payload.TaskID)
		} else {
			answer.Task = task
		}
	case payload.Summary:
		answer.Summary = e.reg.Summary()
	default:
		answer.Error = "query names no task and requests no summary"
	}

	response := models.NewMessage(EngineID, models.RoleEngine, msg.TaskID, &answer)
	response.RecipientID = msg.SenderID
	e.publish(response)
}
