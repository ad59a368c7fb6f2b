package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/aegis-sign/psbt-bridge/internal/page"
	"github.com/aegis-sign/psbt-bridge/pkg/apierrors"
)

// NoopSigner 是占位实现，提示使用者需要接入真实的签名能力。
type NoopSigner struct{}

// ApprovePSBT 仅返回占位错误。
func (NoopSigner) ApprovePSBT(context.Context, page.SigningRequest, Host) error {
	return apierrors.New(apierrors.CodeUnavailable, "noop signer: no signing capability configured")
}

// CommandSigner 调用外部签名程序：PSBT 写入标准输入，签名结果从标准输出读取后回写页面。
// 缓存中的口令通过环境变量 PasswordEnv 传给子进程。
type CommandSigner struct {
	Path        string
	Args        []string
	PasswordEnv string
}

// ApprovePSBT 实现 Signer。
func (s CommandSigner) ApprovePSBT(ctx context.Context, req page.SigningRequest, host Host) error {
	if s.Path == "" {
		return apierrors.New(apierrors.CodeInvalidArgument, "signer command is required")
	}
	cmd := exec.CommandContext(ctx, s.Path, s.Args...)
	cmd.Stdin = strings.NewReader(req.PSBT)
	cmd.Env = append(cmd.Environ(),
		"PSBT_REQUEST_TYPE="+req.RequestType,
		"PSBT_AMOUNT="+req.Amount,
	)
	if s.PasswordEnv != "" {
		if pw := host.GetPassword(ctx); pw != "" {
			cmd.Env = append(cmd.Env, s.PasswordEnv+"="+pw)
		}
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("signer command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	signed := strings.TrimSpace(stdout.String())
	if signed == "" {
		return apierrors.New(apierrors.CodeInvalidArgument, "signer command produced no psbt")
	}
	return host.PastePSBT(ctx, signed)
}
