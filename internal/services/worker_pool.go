// internal/services/worker_pool.go
package services

import (
	"log"
	"sync"

	apperrors "github.com/vvojtas/dailogi/internal/errors"
)

// GenerationPool 是运行对话生成任务的有界工作池。
// 并发度由工作协程数量限定，等待队列有固定容量：
// 超出容量的提交会排队等待，而不是被直接拒绝。
type GenerationPool struct {
	tasks chan func()
	quit  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// NewGenerationPool 创建并启动工作池
func NewGenerationPool(workers, queueDepth int) *GenerationPool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}

	p := &GenerationPool{
		tasks: make(chan func(), queueDepth),
		quit:  make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

func (p *GenerationPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.quit:
			return
		case task := <-p.tasks:
			task()
		}
	}
}

// Submit 提交一个生成任务。队列已满时阻塞等待空位（排队而非拒绝），
// 工作池关闭后返回错误。
func (p *GenerationPool) Submit(task func()) error {
	select {
	case <-p.quit:
		return apperrors.NewAppError(apperrors.ErrorTypeQueueClosed, "生成工作池已关闭", nil)
	default:
	}

	select {
	case p.tasks <- task:
		return nil
	case <-p.quit:
		return apperrors.NewAppError(apperrors.ErrorTypeQueueClosed, "生成工作池已关闭", nil)
	}
}

// TrySubmit 非阻塞提交，队列已满时返回false。
// 背压在这里是显式可观察的条件，而不是框架的隐式行为。
func (p *GenerationPool) TrySubmit(task func()) (bool, error) {
	select {
	case <-p.quit:
		return false, apperrors.NewAppError(apperrors.ErrorTypeQueueClosed, "生成工作池已关闭", nil)
	default:
	}

	select {
	case p.tasks <- task:
		return true, nil
	default:
		return false, nil
	}
}

// QueueLen 返回当前排队中的任务数量
func (p *GenerationPool) QueueLen() int {
	return len(p.tasks)
}

// Shutdown 停止工作池。正在执行的任务会运行完毕，排队中的任务被丢弃。
func (p *GenerationPool) Shutdown() {
	p.once.Do(func() {
		close(p.quit)
	})
	p.wg.Wait()

	if pending := len(p.tasks); pending > 0 {
		log.Printf("⚠️ 生成工作池关闭时丢弃了 %d 个排队任务", pending)
	}
}
