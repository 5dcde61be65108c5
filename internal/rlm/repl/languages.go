package repl

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"
)

type pythonLauncher struct{}

func (pythonLauncher) defaultTimeout() time.Duration { return DefaultTimeout }

func (pythonLauncher) prepare(dir, code string) ([]*exec.Cmd, error) {
	path := scriptPath(dir, uuid.NewString()+".py")
	if err := writeScript(path, code); err != nil {
		return nil, err
	}
	return []*exec.Cmd{exec.Command("python3", path)}, nil
}

type bashLauncher struct{}

func (bashLauncher) defaultTimeout() time.Duration { return DefaultTimeout }

func (bashLauncher) prepare(dir, code string) ([]*exec.Cmd, error) {
	path := scriptPath(dir, uuid.NewString()+".sh")
	if err := writeScript(path, code); err != nil {
		return nil, err
	}
	return []*exec.Cmd{exec.Command("bash", path)}, nil
}

type javascriptLauncher struct{}

func (javascriptLauncher) defaultTimeout() time.Duration { return DefaultTimeout }

func (javascriptLauncher) prepare(dir, code string) ([]*exec.Cmd, error) {
	path := scriptPath(dir, uuid.NewString()+".js")
	if err := writeScript(path, code); err != nil {
		return nil, err
	}
	return []*exec.Cmd{exec.Command("node", path)}, nil
}

// javaLauncher wraps the submitted statements in a generated class whose
// name is unique per call ("Repl" plus the first 8 characters of a fresh
// uuid), then compiles and runs it as two steps.
type javaLauncher struct{}

func (javaLauncher) defaultTimeout() time.Duration { return DefaultTimeout }

func (javaLauncher) prepare(dir, code string) ([]*exec.Cmd, error) {
	className := "Repl" + sanitizeIdentifier(uuid.NewString())[:8]
	source := fmt.Sprintf("public class %s {\n    public static void main(String[] args) throws Exception {\n%s\n    }\n}\n", className, code)

	path := scriptPath(dir, className+".java")
	if err := writeScript(path, source); err != nil {
		return nil, err
	}

	return []*exec.Cmd{
		exec.Command("javac", path),
		exec.Command("java", "-cp", dir, className),
	}, nil
}

// rustLauncher wraps the submitted statements in fn main, compiles the
// single file with rustc directly (no Cargo crate), and runs the binary as
// a second step. A compile failure and a runtime failure both surface as
// the same NonZeroExit error.
type rustLauncher struct{}

func (rustLauncher) defaultTimeout() time.Duration { return RustTimeout }

func (rustLauncher) prepare(dir, code string) ([]*exec.Cmd, error) {
	binPath := scriptPath(dir, "repl_main")
	srcPath := scriptPath(dir, "main.rs")

	source := fmt.Sprintf("fn main() {\n%s\n}\n", code)
	if err := writeScript(srcPath, source); err != nil {
		return nil, err
	}

	return []*exec.Cmd{
		exec.Command("rustc", "-O", "-o", binPath, srcPath),
		exec.Command(binPath),
	}, nil
}

func writeScript(path, contents string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(contents); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
