// Command whiskerdemo drives the real Whisker scheduler, entity pool, and
// query engine against a window of moving sprites. It is a harness for
// exercising the core end to end, not a game: no assets, no input, no save
// system.
package main

import (
	"image/color"
	"log"
	"math/rand"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"

	"whisker/internal/ecs/pool"
	"whisker/internal/ecs/scheduler"
	"whisker/internal/ecs/world"
)

const (
	screenWidth  = 1280
	screenHeight = 720
	spriteCount  = 500
)

type vec2 struct{ X, Y float64 }

// Game wires a world.World into ebiten's Update/Draw/Layout loop: a fixed
// 60 Hz phase advances sprite positions and an uncapped render phase runs
// a no-op system, matching the fixed-update-plus-uncapped-render split
// spec.md §4.5 and §6 describe. Draw renders the sprites itself through a
// Position query.
type Game struct {
	w *world.World

	fixedTimeStep  int
	renderTimeStep int
	lastTick       time.Time
}

func newGame() *Game {
	w := world.New()

	g := &Game{w: w, lastTick: time.Now()}
	g.fixedTimeStep = w.Scheduler.RegisterTimeStep(scheduler.DefaultFixedTimeStep("fixed"))
	g.renderTimeStep = w.Scheduler.RegisterTimeStep(scheduler.DefaultRenderTimeStep("render"))

	updatePhase := w.Scheduler.RegisterPhase(scheduler.PhaseOnUpdate, g.fixedTimeStep, false)
	renderPhase := w.Scheduler.RegisterPhase(scheduler.PhaseOnRender, g.renderTimeStep, false)

	sprites := w.NewPool("sprites", pool.Config{
		InitialSize:      spriteCount,
		ReallocBlockSize: 64,
	})
	pool.SetPrototypeComponent(sprites, w.Resolve("Position"), vec2{})
	pool.SetPrototypeComponent(sprites, w.Resolve("Velocity"), vec2{})

	for i := 0; i < spriteCount; i++ {
		e := sprites.Request()
		world.EnqueueSetComponent(w, "Position", e, vec2{
			X: rand.Float64() * screenWidth,
			Y: rand.Float64() * screenHeight,
		}, false)
		world.EnqueueSetComponent(w, "Velocity", e, vec2{
			X: (rand.Float64() - 0.5) * 120,
			Y: (rand.Float64() - 0.5) * 120,
		}, false)
	}

	w.Scheduler.RegisterSystem("Movement", updatePhase, 0, func(ctx *scheduler.SystemContext) {
		it := w.NamedQuery(1, "Position", "Velocity", "", ctx.ThreadID, ctx.ThreadMax)
		dt := ctx.DeltaTime.Seconds()
		for {
			e, ok := it.Next()
			if !ok {
				break
			}
			pos := world.GetComponent[vec2](w, "Position", e)
			vel := world.GetComponent[vec2](w, "Velocity", e)
			pos.X += vel.X * dt
			pos.Y += vel.Y * dt
			if pos.X < 0 || pos.X > screenWidth {
				vel.X = -vel.X
			}
			if pos.Y < 0 || pos.Y > screenHeight {
				vel.Y = -vel.Y
			}
		}
	})

	w.Scheduler.RegisterSystem("NoopRender", renderPhase, 0, func(ctx *scheduler.SystemContext) {})

	return g
}

func (g *Game) Update() error {
	now := time.Now()
	dt := now.Sub(g.lastTick)
	g.lastTick = now
	return g.w.Update(dt)
}

func (g *Game) Draw(screen *ebiten.Image) {
	screen.Fill(color.RGBA{20, 20, 30, 255})

	it := g.w.NamedQuery(2, "Position", "", "", 0, 0)
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		pos := world.GetComponent[vec2](g.w, "Position", e)
		if pos == nil {
			continue
		}
		screen.Set(int(pos.X), int(pos.Y), color.RGBA{220, 220, 255, 255})
	}

	ebitenutil.DebugPrint(screen, "whisker demo - fixed update + uncapped render")
}

func (g *Game) Layout(_, _ int) (int, int) {
	return screenWidth, screenHeight
}

func main() {
	ebiten.SetWindowSize(screenWidth, screenHeight)
	ebiten.SetWindowTitle("whiskerdemo")

	if err := ebiten.RunGame(newGame()); err != nil {
		log.Fatal(err)
	}
}
