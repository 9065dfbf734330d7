package delivery

import (
	"time"

	"github.com/google/uuid"
)

// TaskTemplate describes a task instantiated when a service is purchased
type TaskTemplate struct {
	ID                  string
	Title               string
	TaskType            TaskType
	IsRequired          bool
	Recurring           bool   // instantiated on renewals too
	AutoCompleteOn      string // external action completing the task
	RequiredCompletions int
}

var templates = map[ServiceType][]TaskTemplate{
	ServiceCoachingBundle: {
		{ID: "review_intake", Title: "Review client intake", TaskType: TaskTypeManual, IsRequired: true},
		{ID: "deliver_plan", Title: "Assign training plan", TaskType: TaskTypeAuto, IsRequired: true, Recurring: true, AutoCompleteOn: ActionTrainingPlanAssigned},
		{ID: "deliver_meal_plan", Title: "Assign meal plan", TaskType: TaskTypeAuto, IsRequired: true, Recurring: true, AutoCompleteOn: ActionMealPlanAssigned},
		{ID: "weekly_check_in", Title: "Reply to check-ins", TaskType: TaskTypeAuto, Recurring: true, AutoCompleteOn: ActionCheckInReplied, RequiredCompletions: 2},
	},
	ServiceWorkoutPlan: {
		{ID: "review_intake", Title: "Review client intake", TaskType: TaskTypeManual},
		{ID: "deliver_plan", Title: "Assign training plan", TaskType: TaskTypeAuto, IsRequired: true, Recurring: true, AutoCompleteOn: ActionTrainingPlanAssigned},
	},
	ServiceMealPlan: {
		{ID: "review_intake", Title: "Review dietary preferences", TaskType: TaskTypeManual},
		{ID: "deliver_meal_plan", Title: "Assign meal plan", TaskType: TaskTypeAuto, IsRequired: true, Recurring: true, AutoCompleteOn: ActionMealPlanAssigned},
	},
	ServiceInPersonSession: {
		{ID: "schedule_session", Title: "Schedule the session", TaskType: TaskTypeAuto, IsRequired: true, Recurring: true, AutoCompleteOn: ActionSessionScheduled},
		{ID: "hold_session", Title: "Hold the session", TaskType: TaskTypeAuto, IsRequired: true, Recurring: true, AutoCompleteOn: ActionSessionCompleted},
		{ID: "session_notes", Title: "Share session notes", TaskType: TaskTypeManual, Recurring: true},
	},
}

// Templates returns the task templates of serviceType
func Templates(serviceType ServiceType) ([]TaskTemplate, error) {
	list, ok := templates[serviceType]
	if !ok {
		return nil, ErrUnknownServiceType
	}
	return list, nil
}

// ExpandTasks instantiates the PENDING tasks of a new delivery. A renewal only gets the recurring templates.
func ExpandTasks(serviceType ServiceType, deliveryID string, renewal bool, now time.Time) ([]Task, error) {
	list, err := Templates(serviceType)
	if err != nil {
		return nil, err
	}
	tasks := make([]Task, 0, len(list))
	for _, tmpl := range list {
		if renewal && !tmpl.Recurring {
			continue
		}
		required := tmpl.RequiredCompletions
		if required < 1 {
			required = 1
		}
		tasks = append(tasks, Task{
			ID:                  uuid.New().String(),
			DeliveryID:          deliveryID,
			TemplateID:          tmpl.ID,
			Title:               tmpl.Title,
			TaskType:            tmpl.TaskType,
			Status:              TaskPending,
			Position:            len(tasks),
			IsRequired:          tmpl.IsRequired,
			AutoCompleteOn:      tmpl.AutoCompleteOn,
			RequiredCompletions: required,
			CreatedAt:           now,
			UpdatedAt:           now,
		})
	}
	return tasks, nil
}
