package snapv1

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"snap-gateway/internal/snap"
)

// CodeForReason 原因碼對應的 gRPC 狀態碼.
func CodeForReason(reason snap.Reason) codes.Code {
	switch reason {
	case snap.ReasonInvalidArgument:
		return codes.InvalidArgument
	case snap.ReasonNotFound:
		return codes.NotFound
	case snap.ReasonNotAParticipant, snap.ReasonForbidden:
		return codes.PermissionDenied
	case snap.ReasonExpired:
		return codes.FailedPrecondition
	case snap.ReasonNoReplaysRemaining:
		return codes.ResourceExhausted
	case snap.ReasonTransientNetwork:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// StatusError 將錯誤轉為 gRPC 狀態. 訊息格式為 "<reason>" 或 "<reason>: <detail>"，
// internal 錯誤不帶細節.
func StatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	reason := snap.ReasonOf(err)
	msg := string(reason)
	var se *snap.Error
	if reason != snap.ReasonInternal && errors.As(err, &se) && se.Detail != "" {
		msg += ": " + se.Detail
	}
	return status.Error(CodeForReason(reason), msg)
}

// ReasonFromError 客戶端解析錯誤. 連線失敗、逾時與取消一律視為 transient_network.
func ReasonFromError(err error) snap.Reason {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return snap.ReasonTransientNetwork
	}

	st, ok := status.FromError(err)
	if !ok {
		return snap.ReasonTransientNetwork
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.Aborted:
		return snap.ReasonTransientNetwork
	case codes.Unauthenticated:
		return snap.ReasonForbidden
	}

	prefix, _, _ := strings.Cut(st.Message(), ":")
	reason := snap.Reason(strings.TrimSpace(prefix))
	switch reason {
	case snap.ReasonExpired, snap.ReasonNotAParticipant, snap.ReasonNoReplaysRemaining,
		snap.ReasonNotFound, snap.ReasonForbidden, snap.ReasonInvalidArgument:
		return reason
	}
	return snap.ReasonInternal
}
