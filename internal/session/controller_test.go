package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/libload/internal/backup"
	"github.com/kalambet/libload/internal/configfile"
	"github.com/kalambet/libload/internal/deploy"
	"github.com/kalambet/libload/internal/model"
	"github.com/kalambet/libload/internal/shell"
	"github.com/kalambet/libload/internal/storage"
	"github.com/kalambet/libload/internal/terminal"
)

type testEnv struct {
	ctrl       *Controller
	configPath string
	backupPath string
	root       string
	sink       *terminal.Buffer

	mu       sync.Mutex
	commands []string
}

func (e *testEnv) recorded() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

func (e *testEnv) resetCommands() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = nil
}

// newTestEnv wires a Controller to the embedded interpreter rooted in a
// temp dir. override, when non-nil, may answer a command instead.
func newTestEnv(t *testing.T, override func(cmd string) (shell.Result, bool)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		configPath: filepath.Join(dir, "config.json"),
		backupPath: filepath.Join(dir, "backup.json"),
		root:       filepath.Join(dir, "data", "user", "0"),
		sink:       terminal.NewBuffer(),
	}
	if err := os.MkdirAll(env.root, 0o755); err != nil {
		t.Fatal(err)
	}

	sh := shell.NewInterp(dir, 5*time.Second)
	exec := shell.ExecutorFunc(func(ctx context.Context, cmd string) (shell.Result, error) {
		env.mu.Lock()
		env.commands = append(env.commands, cmd)
		env.mu.Unlock()
		if override != nil {
			if res, ok := override(cmd); ok {
				return res, nil
			}
		}
		return sh.Exec(ctx, cmd)
	})

	env.ctrl = New(Deps{
		Exec:        exec,
		Files:       configfile.NewAdapter(exec, env.configPath),
		Deployer:    deploy.NewDeployer(exec, env.root),
		Backups:     backup.NewManager(exec, env.configPath, env.backupPath),
		AppDataRoot: env.root,
		Sink:        env.sink,
	})
	return env
}

func (e *testEnv) writeConfig(t *testing.T, content string) {
	t.Helper()
	if err := os.WriteFile(e.configPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (e *testEnv) persisted(t *testing.T) *model.Store {
	t.Helper()
	data, err := os.ReadFile(e.configPath)
	if err != nil {
		t.Fatalf("reading config file: %v", err)
	}
	store, err := configfile.Decode(e.configPath, data)
	if err != nil {
		t.Fatalf("persisted config does not parse: %v", err)
	}
	return store
}

func assertConsistent(t *testing.T, c *Controller) {
	t.Helper()
	st := c.State()
	keys := c.Configs().Keys()
	if strings.Join(st.Packages, ",") != strings.Join(keys, ",") {
		t.Errorf("packages %v diverged from store keys %v", st.Packages, keys)
	}
	if st.Current != "" {
		found := false
		for _, p := range st.Packages {
			if p == st.Current {
				found = true
			}
		}
		if !found {
			t.Errorf("current %q not in packages %v", st.Current, st.Packages)
		}
	}
}

var ctx = context.Background()

func TestLoad_EmptyWhenFileMissing(t *testing.T) {
	env := newTestEnv(t, nil)

	st := env.ctrl.Load(ctx)
	if len(st.Packages) != 0 || st.Current != "" {
		t.Errorf("state = %+v, want empty with no selection", st)
	}
	if _, ok := env.ctrl.Form(); ok {
		t.Error("Form() ok = true with no selection")
	}
}

func TestLoad_MalformedJSONRecoversSilently(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeConfig(t, `{"a":}`)

	st := env.ctrl.Load(ctx)
	if len(st.Packages) != 0 || env.ctrl.Configs().Len() != 0 {
		t.Errorf("state = %+v, want empty", st)
	}
}

func TestLoad_SelectsFirstPackage(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeConfig(t, `{"com.b":{},"com.a":{"defaultLib":false,"libPath":"/x.so","status":true}}`)

	st := env.ctrl.Load(ctx)
	if st.Current != "com.b" {
		t.Errorf("Current = %q, want com.b", st.Current)
	}
	if len(st.Packages) != 2 || st.Packages[1] != "com.a" {
		t.Errorf("Packages = %v, want [com.b com.a]", st.Packages)
	}
}

func TestAddPackage(t *testing.T) {
	env := newTestEnv(t, nil)
	env.ctrl.Load(ctx)

	if err := env.ctrl.AddPackage(ctx, "  com.example  "); err != nil {
		t.Fatalf("AddPackage: %v", err)
	}

	st := env.ctrl.State()
	if len(st.Packages) != 1 || st.Packages[0] != "com.example" {
		t.Fatalf("Packages = %v, want [com.example]", st.Packages)
	}
	rec, ok := env.ctrl.Configs().Get("com.example")
	if !ok || rec != model.DefaultRecord() {
		t.Errorf("record = %+v, %v; want default record", rec, ok)
	}

	persisted := env.persisted(t)
	if r, ok := persisted.Get("com.example"); !ok || r != model.DefaultRecord() {
		t.Errorf("persisted record = %+v, %v", r, ok)
	}

	if info, err := os.Stat(filepath.Join(env.root, "com.example")); err != nil || !info.IsDir() {
		t.Errorf("app data dir not provisioned: %v", err)
	}
	assertConsistent(t, env.ctrl)
}

func TestAddPackage_SelectionPolicy(t *testing.T) {
	env := newTestEnv(t, nil)
	env.ctrl.Load(ctx)

	// From no selection, the dropdown falls back to the first package.
	if err := env.ctrl.AddPackage(ctx, "com.first"); err != nil {
		t.Fatal(err)
	}
	if got := env.ctrl.State().Current; got != "com.first" {
		t.Errorf("Current = %q, want com.first", got)
	}

	// An existing selection is kept; the new package is only listed.
	if err := env.ctrl.AddPackage(ctx, "com.second"); err != nil {
		t.Fatal(err)
	}
	if got := env.ctrl.State().Current; got != "com.first" {
		t.Errorf("Current = %q, want com.first", got)
	}
}

func TestAddPackage_Validation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeConfig(t, `{"com.existing":{}}`)
	env.ctrl.Load(ctx)

	before, _ := os.ReadFile(env.configPath)

	for _, name := range []string{"", "   ", "com.existing", "../etc", "a/b", ".."} {
		err := env.ctrl.AddPackage(ctx, name)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("AddPackage(%q) err = %v, want *ValidationError", name, err)
		}
	}

	st := env.ctrl.State()
	if len(st.Packages) != 1 || env.ctrl.Configs().Len() != 1 {
		t.Errorf("state changed after rejected adds: %+v", st)
	}
	after, _ := os.ReadFile(env.configPath)
	if string(before) != string(after) {
		t.Error("config file rewritten after rejected adds")
	}
}

func TestAddPackage_ProvisioningFailureIsNonFatal(t *testing.T) {
	env := newTestEnv(t, func(cmd string) (shell.Result, bool) {
		if strings.HasPrefix(cmd, "mkdir ") {
			return shell.Result{ExitStatus: 1, Stderr: "mkdir: Permission denied"}, true
		}
		return shell.Result{}, false
	})
	env.ctrl.Load(ctx)

	if err := env.ctrl.AddPackage(ctx, "com.example"); err != nil {
		t.Fatalf("AddPackage: %v", err)
	}
	if !env.persisted(t).Has("com.example") {
		t.Error("package not persisted after provisioning failure")
	}
}

func TestSelectPackage(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeConfig(t, `{"com.a":{},"com.b":{"defaultLib":false,"libPath":"/b.so","status":true}}`)
	env.ctrl.Load(ctx)

	form, ok := env.ctrl.SelectPackage(ctx, "com.b")
	if !ok {
		t.Fatal("SelectPackage(com.b) ok = false")
	}
	want := model.Form{UseDefaultLib: false, LibPath: "/b.so", EnableInjection: true}
	if form != want {
		t.Errorf("form = %+v, want %+v", form, want)
	}

	form, _ = env.ctrl.SelectPackage(ctx, "com.unknown")
	if got := env.ctrl.State().Current; got != "com.b" {
		t.Errorf("Current = %q after unknown select, want com.b", got)
	}
	if form != want {
		t.Errorf("form changed after unknown select: %+v", form)
	}
}

func TestForm_LenientRecord(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeConfig(t, `{"com.a": 5, "com.b": {"defaultLib": null, "status": "yes"}}`)
	env.ctrl.Load(ctx)

	for _, pkg := range []string{"com.a", "com.b"} {
		form, ok := env.ctrl.SelectPackage(ctx, pkg)
		if !ok {
			t.Fatalf("SelectPackage(%s) ok = false", pkg)
		}
		want := model.Form{UseDefaultLib: true, LibPath: "", EnableInjection: false}
		if form != want {
			t.Errorf("%s form = %+v, want %+v", pkg, form, want)
		}
	}
}

func TestRemovePackage(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeConfig(t, `{"com.a":{},"com.x":{},"com.c":{}}`)
	env.ctrl.Load(ctx)
	env.ctrl.SelectPackage(ctx, "com.x")

	if err := env.ctrl.RemovePackage(ctx); err != nil {
		t.Fatalf("RemovePackage: %v", err)
	}

	st := env.ctrl.State()
	if strings.Join(st.Packages, ",") != "com.a,com.c" {
		t.Errorf("Packages = %v, want [com.a com.c]", st.Packages)
	}
	if st.Current != "com.a" {
		t.Errorf("Current = %q, want com.a", st.Current)
	}
	if env.persisted(t).Has("com.x") {
		t.Error("removed package still persisted")
	}
	assertConsistent(t, env.ctrl)
}

func TestRemovePackage_LastClearsSelection(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeConfig(t, `{"com.only":{}}`)
	env.ctrl.Load(ctx)

	if err := env.ctrl.RemovePackage(ctx); err != nil {
		t.Fatalf("RemovePackage: %v", err)
	}
	st := env.ctrl.State()
	if len(st.Packages) != 0 || st.Current != "" {
		t.Errorf("state = %+v, want empty with no selection", st)
	}

	err := env.ctrl.RemovePackage(ctx)
	var nerr *NoSelectionError
	if !errors.As(err, &nerr) {
		t.Errorf("err = %v, want *NoSelectionError", err)
	}
}

func TestSaveCurrent_NoSelection(t *testing.T) {
	env := newTestEnv(t, nil)
	env.ctrl.Load(ctx)

	_, err := env.ctrl.SaveCurrent(ctx, model.Form{})
	var nerr *NoSelectionError
	if !errors.As(err, &nerr) {
		t.Fatalf("err = %v, want *NoSelectionError", err)
	}
	if _, statErr := os.Stat(env.configPath); !os.IsNotExist(statErr) {
		t.Error("config file written despite missing selection")
	}
}

func TestSaveCurrent_DefaultLibIssuesNoDeployment(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeConfig(t, `{"com.example":{}}`)
	env.ctrl.Load(ctx)
	env.resetCommands()

	out, err := env.ctrl.SaveCurrent(ctx, model.Form{UseDefaultLib: true, LibPath: "/tmp/lib.so", EnableInjection: true})
	if err != nil {
		t.Fatalf("SaveCurrent: %v", err)
	}
	if !out.Deploy.Skipped {
		t.Error("Deploy.Skipped = false, want true")
	}
	for _, cmd := range env.recorded() {
		if strings.HasPrefix(cmd, "cp ") || strings.HasPrefix(cmd, "rm ") || strings.HasPrefix(cmd, "chmod ") {
			t.Errorf("unexpected deployment command %q", cmd)
		}
	}

	rec, _ := env.persisted(t).Get("com.example")
	want := model.Record{DefaultLib: true, LibPath: "/tmp/lib.so", Status: true}
	if rec != want {
		t.Errorf("persisted = %+v, want %+v", rec, want)
	}
}

func TestSaveCurrent_DeploysLibrary(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeConfig(t, `{"com.example":{}}`)
	env.ctrl.Load(ctx)

	src := filepath.Join(t.TempDir(), "lib.so")
	if err := os.WriteFile(src, []byte("ELF"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(env.root, "com.example"), 0o755); err != nil {
		t.Fatal(err)
	}
	env.resetCommands()

	out, err := env.ctrl.SaveCurrent(ctx, model.Form{UseDefaultLib: false, LibPath: " " + src + " ", EnableInjection: true})
	if err != nil {
		t.Fatalf("SaveCurrent: %v", err)
	}
	dest := filepath.Join(env.root, "com.example", deploy.LibName)
	if out.Deploy.Dest != dest {
		t.Errorf("Dest = %q, want %q", out.Deploy.Dest, dest)
	}

	cmds := env.recorded()
	if len(cmds) != 4 {
		t.Fatalf("commands = %q, want write + rm + cp + chmod", cmds)
	}
	if !strings.HasPrefix(cmds[0], "printf ") {
		t.Errorf("first command = %q, want config write", cmds[0])
	}
	if cmds[1] != "rm -f "+shell.Quote(dest) || cmds[2] != "cp "+shell.Quote(src)+" "+shell.Quote(dest) || cmds[3] != "chmod 777 "+shell.Quote(dest) {
		t.Errorf("deployment commands = %q", cmds[1:])
	}

	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "ELF" {
		t.Errorf("deployed file = %q, %v", data, err)
	}
}

func TestSaveCurrent_DeploymentFailureKeepsRecord(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeConfig(t, `{"com.example":{}}`)
	env.ctrl.Load(ctx)

	form := model.Form{UseDefaultLib: false, LibPath: "/nonexistent/lib.so", EnableInjection: true}
	out, err := env.ctrl.SaveCurrent(ctx, form)

	var derr *deploy.DeployError
	if !errors.As(err, &derr) {
		t.Fatalf("err = %v, want *deploy.DeployError", err)
	}
	if derr.Detail == "" {
		t.Error("DeployError.Detail is empty, want cp error text")
	}
	if out.Record != form.Record() {
		t.Errorf("outcome record = %+v", out.Record)
	}

	rec, _ := env.persisted(t).Get("com.example")
	if rec != form.Record() {
		t.Errorf("persisted = %+v, want %+v", rec, form.Record())
	}
}

func TestSaveCurrent_FullReplace(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeConfig(t, `{"com.example":{"defaultLib":false,"libPath":"/old.so","status":true}}`)
	env.ctrl.Load(ctx)

	if _, err := env.ctrl.SaveCurrent(ctx, model.Form{UseDefaultLib: true}); err != nil {
		t.Fatalf("SaveCurrent: %v", err)
	}
	rec, _ := env.ctrl.Configs().Get("com.example")
	if rec != model.DefaultRecord() {
		t.Errorf("record = %+v, want fields replaced, not merged", rec)
	}
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeConfig(t, `{"com.a":{},"com.b":{}}`)
	env.ctrl.Load(ctx)
	snapshot := env.ctrl.Configs()

	if err := env.ctrl.Backup(ctx); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	// restore with no intervening change is a no-op
	if err := env.ctrl.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !env.ctrl.Configs().Equal(snapshot) {
		t.Error("store changed after restore without mutation")
	}

	if err := env.ctrl.AddPackage(ctx, "com.c"); err != nil {
		t.Fatal(err)
	}
	env.ctrl.SelectPackage(ctx, "com.a")
	if err := env.ctrl.RemovePackage(ctx); err != nil {
		t.Fatal(err)
	}

	if err := env.ctrl.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !env.ctrl.Configs().Equal(snapshot) {
		t.Errorf("store after restore = %v, want %v", env.ctrl.Configs().Keys(), snapshot.Keys())
	}
	st := env.ctrl.State()
	if st.Current != "com.b" {
		t.Errorf("Current = %q, want com.b kept across restore", st.Current)
	}
	assertConsistent(t, env.ctrl)

	lines := strings.Join(env.sink.Lines(), "\n")
	if !strings.Contains(lines, "Config backed up to "+env.backupPath) {
		t.Errorf("terminal missing backup line:\n%s", lines)
	}
}

func TestRestore_FailureLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeConfig(t, `{"com.a":{}}`)
	env.ctrl.Load(ctx)
	if err := env.ctrl.AddPackage(ctx, "com.b"); err != nil {
		t.Fatal(err)
	}
	before := env.ctrl.Configs()

	err := env.ctrl.Restore(ctx)
	var execErr *shell.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("err = %v, want *shell.ExecutionError", err)
	}
	if !env.ctrl.Configs().Equal(before) {
		t.Error("in-memory store changed after failed restore")
	}
}

func TestDispatch_UnknownIntent(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.ctrl.Dispatch(ctx, Action{Intent: "explode"}); err == nil {
		t.Fatal("expected error for unknown intent")
	}
}

func TestDispatch_LoadsLazily(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeConfig(t, `{"com.a":{}}`)

	out, err := env.ctrl.Dispatch(ctx, Action{Intent: IntentSelect, Package: "com.a"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.State.Current != "com.a" || out.Form == nil {
		t.Errorf("outcome = %+v, want com.a selected with form", out)
	}
}

func TestDispatch_SaveMessages(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeConfig(t, `{"com.a":{}}`)

	out, err := env.ctrl.Dispatch(ctx, Action{Intent: IntentSave, Form: &model.Form{UseDefaultLib: true}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if out.Message != "Config saved" {
		t.Errorf("Message = %q, want %q", out.Message, "Config saved")
	}

	_, err = env.ctrl.Dispatch(ctx, Action{Intent: IntentSave})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("save without form err = %v, want *ValidationError", err)
	}
}

type memSelection struct {
	value string
	saves int
}

func (m *memSelection) LoadSelection() (string, error) { return m.value, nil }
func (m *memSelection) SaveSelection(name string) error {
	m.value = name
	m.saves++
	return nil
}

func TestSelectionPersistence(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeConfig(t, `{"com.a":{},"com.b":{}}`)

	sel := &memSelection{value: "com.b"}
	env.ctrl.selection = sel

	if st := env.ctrl.Load(ctx); st.Current != "com.b" {
		t.Errorf("Current = %q, want persisted com.b", st.Current)
	}

	env.ctrl.SelectPackage(ctx, "com.a")
	if sel.value != "com.a" {
		t.Errorf("persisted selection = %q, want com.a", sel.value)
	}
}

func TestSelectionPersistence_SQLite(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	env := newTestEnv(t, nil)
	env.writeConfig(t, `{"com.a":{},"com.b":{}}`)
	env.ctrl.selection = store
	env.ctrl.Load(ctx)
	env.ctrl.SelectPackage(ctx, "com.b")

	// A second controller over the same files starts where the first left off.
	next := New(Deps{
		Exec:      env.ctrl.exec,
		Files:     env.ctrl.files,
		Deployer:  env.ctrl.deployer,
		Backups:   env.ctrl.backups,
		Selection: store,
	})
	if st := next.Load(ctx); st.Current != "com.b" {
		t.Errorf("Current = %q, want com.b", st.Current)
	}
}

func TestSelectionPersistence_StaleSelectionFallsBack(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeConfig(t, `{"com.a":{}}`)
	env.ctrl.selection = &memSelection{value: "com.gone"}

	if st := env.ctrl.Load(ctx); st.Current != "com.a" {
		t.Errorf("Current = %q, want com.a", st.Current)
	}
}
