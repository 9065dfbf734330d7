package delivery

// Status is the fulfilment state of a ServiceDelivery
type Status string

// Delivery statuses. COMPLETED and CANCELLED are terminal.
const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// Terminal reports whether no further change is expected
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// TaskStatus is the state of a single checklist item
type TaskStatus string

// Define the valid state of a task
// Pending -> InProgress/Completed/Cancelled
// InProgress -> Completed/Cancelled
const (
	TaskPending    TaskStatus = "PENDING"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskCancelled  TaskStatus = "CANCELLED"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskInProgress, TaskCompleted, TaskCancelled},
	TaskInProgress: {TaskCompleted, TaskCancelled},
	TaskCompleted:  {},
	TaskCancelled:  {},
}

// CanTransition reports whether a task may move from s to next
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Open reports whether the task may still change
func (s TaskStatus) Open() bool {
	return s == TaskPending || s == TaskInProgress
}

// TaskType tells how a task is expected to be fulfilled
type TaskType string

const (
	TaskTypeManual TaskType = "MANUAL"
	TaskTypeAuto   TaskType = "AUTO"
)

// Names of the external actions that auto-complete tasks
const (
	ActionTrainingPlanAssigned = "training_plan_assigned"
	ActionMealPlanAssigned     = "meal_plan_assigned"
	ActionCheckInReplied       = "check_in_replied"
	ActionSessionScheduled     = "session_scheduled"
	ActionSessionCompleted     = "session_completed"
)
