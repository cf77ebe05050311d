package auth

import "context"

type subjectCtxKey struct{}

// WithSubject 把认证通过的调用方写入上下文，供下游处理器读取。
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil {
		return ctx
	}
	return context.WithValue(ctx, subjectCtxKey{}, subject)
}

// SubjectFromContext 读取上下文中的调用方，未认证时返回 nil。
func SubjectFromContext(ctx context.Context) *Subject {
	if ctx == nil {
		return nil
	}
	subject, _ := ctx.Value(subjectCtxKey{}).(*Subject)
	return subject
}
