package snap

// ScreenshotNotice 偵測到截圖時顯示給觀看者的提示.
const ScreenshotNotice = "The sender will be notified."

var userMessages = map[Reason]string{
	ReasonExpired:            "This snap has expired.",
	ReasonNotAParticipant:    "You can't view this snap.",
	ReasonNoReplaysRemaining: "No replays left.",
	ReasonNotFound:           "This snap is no longer available.",
	ReasonTransientNetwork:   "Couldn't connect. Try again later.",
	ReasonForbidden:          "You can't view this snap.",
	ReasonInvalidArgument:    "Something went wrong opening this snap.",
	ReasonInternal:           "Something went wrong opening this snap.",
}

// UserMessage 回傳原因碼對應的使用者可讀文字，不會暴露原始代碼.
func UserMessage(reason Reason) string {
	if msg, ok := userMessages[reason]; ok {
		return msg
	}
	return userMessages[ReasonInternal]
}
