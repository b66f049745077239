// internal/storage/file_storage_test.go
package storage

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"testing"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TestSaveAndLoadJSONFile 测试保存和读取的往返一致性
func TestSaveAndLoadJSONFile(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("创建文件存储失败: %v", err)
	}

	original := sample{Name: "alpha", Count: 3}
	if err := fs.SaveJSONFile("items", "alpha.json", original); err != nil {
		t.Fatalf("保存失败: %v", err)
	}

	if !fs.FileExists("items", "alpha.json") {
		t.Fatal("保存后文件应存在")
	}

	var loaded sample
	if err := fs.LoadJSONFile("items", "alpha.json", &loaded); err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if loaded != original {
		t.Fatalf("往返不一致: %+v vs %+v", loaded, original)
	}
}

// TestListJSONFiles 测试列出目录下的JSON文件名
func TestListJSONFiles(t *testing.T) {
	fs, _ := NewFileStorage(t.TempDir())

	for _, name := range []string{"a", "b", "c"} {
		if err := fs.SaveJSONFile("items", name+".json", sample{Name: name}); err != nil {
			t.Fatalf("保存失败: %v", err)
		}
	}

	names, err := fs.ListJSONFiles("items")
	if err != nil {
		t.Fatalf("列出失败: %v", err)
	}
	sort.Strings(names)
	if !reflect.DeepEqual(names, []string{"a", "b", "c"}) {
		t.Fatalf("文件名列表不正确: %v", names)
	}

	// 不存在的目录视为空
	names, err = fs.ListJSONFiles("no-such-dir")
	if err != nil || len(names) != 0 {
		t.Fatalf("不存在的目录应返回空列表: %v %v", names, err)
	}
}

// TestDeleteFile 测试文件删除
func TestDeleteFile(t *testing.T) {
	fs, _ := NewFileStorage(t.TempDir())

	fs.SaveJSONFile("items", "gone.json", sample{})
	if err := fs.DeleteFile("items", "gone.json"); err != nil {
		t.Fatalf("删除失败: %v", err)
	}
	if fs.FileExists("items", "gone.json") {
		t.Fatal("删除后文件不应存在")
	}

	if err := fs.DeleteFile("items", "gone.json"); err == nil {
		t.Fatal("删除不存在的文件应返回错误")
	}
}

// TestConcurrentWritesSameFile 测试同一文件的并发写入不损坏内容
func TestConcurrentWritesSameFile(t *testing.T) {
	fs, _ := NewFileStorage(t.TempDir())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fs.SaveJSONFile("items", "shared.json", sample{Name: fmt.Sprintf("writer-%d", i), Count: i})
		}(i)
	}
	wg.Wait()

	// 最终内容必须是某一次完整写入的结果
	var loaded sample
	if err := fs.LoadJSONFile("items", "shared.json", &loaded); err != nil {
		t.Fatalf("并发写入后读取失败: %v", err)
	}
	if loaded.Name == "" {
		t.Fatalf("并发写入后内容损坏: %+v", loaded)
	}
}
