package notify

import "fmt"

// NotifyPaymentSuccess reports a completed payment.
func (center *Center) NotifyPaymentSuccess(amount int64, description string) Notification {
	return center.Notify(TypeSuccess, "Payment successful", fmt.Sprintf("%d credits paid for %s.", amount, description))
}

// NotifyPaymentError reports a failed payment with a user-facing message.
func (center *Center) NotifyPaymentError(message string) Notification {
	return center.Notify(TypeError, "Payment failed", message)
}

// NotifyInsufficientBalance reports a shortfall with both amounts.
func (center *Center) NotifyInsufficientBalance(required int64, current int64) Notification {
	return center.Notify(TypeWarning, "Insufficient balance", fmt.Sprintf("You need %d credits but only have %d.", required, current))
}

// NotifyTaskCompleted reports a finished task.
func (center *Center) NotifyTaskCompleted(taskTitle string) Notification {
	return center.Notify(TypeSuccess, "Task completed", fmt.Sprintf("%q has been marked as completed.", taskTitle))
}

// NotifyTaskPayment reports credits received for a task.
func (center *Center) NotifyTaskPayment(amount int64, taskTitle string) Notification {
	return center.Notify(TypeInfo, "Payment received", fmt.Sprintf("You received %d credits for %q.", amount, taskTitle))
}
